package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainingMetricsSummary(t *testing.T) {
	m := NewTrainingMetrics()
	_, _, _, err := m.Summary()
	assert.ErrorIs(t, err, ErrNoMetrics)

	m.Record(1, 0.5, 0.01, 1)
	m.Record(2, 0.2, 0.01, 1)
	m.Record(3, 0.3, 0.01, 2)

	final, minimum, mean, err := m.Summary()
	require.NoError(t, err)
	assert.Equal(t, 0.3, final)
	assert.Equal(t, 0.2, minimum)
	assert.InDelta(t, 1.0/3, mean, 1e-12)
}

func TestTrainingMetricsSaveHTML(t *testing.T) {
	m := NewTrainingMetrics()
	path := filepath.Join(t.TempDir(), "report.html")
	assert.ErrorIs(t, m.SaveHTML(path, "empty"), ErrNoMetrics)

	m.Record(1, 0.25, 0.01, 1)
	m.Record(2, math.Inf(1), 0.01, 1)
	m.RecordEpoch(0.25)
	require.NoError(t, m.SaveHTML(path, "AR <levels=2>"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(raw)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "AR &lt;levels=2&gt;")
	assert.Contains(t, html, "const losses = [0.25,null];")
	assert.Contains(t, html, "const epochs = [0.25];")
}

func TestTrainerRecordsMetrics(t *testing.T) {
	m, err := ConstructUFCNN(DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultTrainingConfig()
	cfg.NumEpochs = 2
	cfg.BatchSize = 3
	tr, err := NewTrainer(m, cfg, quietLogger())
	require.NoError(t, err)

	x, y := GenerateAR(6, 20, 2)
	history, err := tr.Fit(context.Background(), x, y)
	require.NoError(t, err)

	metrics := tr.Metrics()
	assert.Equal(t, []int{1, 2, 3, 4}, metrics.Steps)
	assert.Equal(t, []int{1, 1, 2, 2}, metrics.Epochs)
	assert.Equal(t, []float64{0.01, 0.01, 0.01, 0.01}, metrics.LearningRates)
	assert.Equal(t, history, metrics.EpochLosses)
}
