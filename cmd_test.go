package main

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestComputeConfigFor(t *testing.T) {
	assert.False(t, computeConfigFor(1).Parallel)

	cfg := computeConfigFor(3)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 3, cfg.numWorkers())
}

func TestDerivedSeed(t *testing.T) {
	assert.Equal(t, int64(8), derivedSeed(7, 1))
	assert.Equal(t, SeedRandom, derivedSeed(SeedRandom, 1))
}

func TestSeedStreams(t *testing.T) {
	seeds := newSeedStreams(0)
	all := []int64{seeds.Weights, seeds.TrainData, seeds.TestData, seeds.Shuffle}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.NotEqual(t, all[i], all[j])
		}
	}

	// The first H1 weights must not repeat the noise that drives the
	// training series.
	m, err := ConstructUFCNN(Config{NInputs: 1, NOutputs: 1, NLevels: 1, NFilters: 1, FilterLength: 3, Seed: seeds.Weights})
	require.NoError(t, err)
	noise := NewTruncatedNormal(initStddev, seeds.TrainData).Tensor(3)
	assert.NotEqual(t, noise.data, m.Weights[0].Value().data)

	random := newSeedStreams(SeedRandom)
	assert.Equal(t, seedStreams{SeedRandom, SeedRandom, SeedRandom, SeedRandom}, random)
}

func TestCommandsRejectEmptyData(t *testing.T) {
	for _, args := range [][]string{{"-series=0"}, {"-test-series=0"}, {"-samples=0"}} {
		err := RunTrainCommand(append(args, "-log-level=error"))
		require.Error(t, err, args[0])
		assert.Contains(t, err.Error(), "must be positive")
	}
	for _, args := range [][]string{{"-series=0"}, {"-samples=-1"}} {
		err := RunPredictCommand(append(args, "-log-level=error"))
		require.Error(t, err, args[0])
		assert.Contains(t, err.Error(), "must be positive")
	}
}

func TestTrainPredictSummaryCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ufcnn.bin")
	report := filepath.Join(dir, "report.html")

	err := RunTrainCommand([]string{
		"-levels=2", "-filters=4", "-filter-length=3",
		"-series=4", "-test-series=2", "-samples=30",
		"-epochs=1", "-batch=2", "-workers=1",
		"-model=" + path, "-metrics=" + report, "-log-level=error",
	})
	require.NoError(t, err)
	assert.FileExists(t, report)

	loaded, err := LoadUFCNN(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Config.NLevels)
	assert.Equal(t, 4, loaded.Config.NFilters)

	require.NoError(t, RunPredictCommand([]string{"-model=" + path, "-series=2", "-samples=30", "-log-level=error"}))
	require.NoError(t, RunSummaryCommand([]string{"-model=" + path}))
	require.NoError(t, RunSummaryCommand([]string{"-levels=3"}))
}
