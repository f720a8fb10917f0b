package main

/*
WHAT'S GOING ON HERE?

Training metrics and a self-contained HTML report of a training run.

KEY CONCEPTS:
- TrainingMetrics: loss and learning rate of every optimizer step, recorded
  by Trainer.Step
- SaveHTML: one file with summary cards and canvas line charts, no external
  scripts, opens in any browser

CHARTS:
1. Loss curve per step (MSE or cross-entropy, whatever the trainer minimizes)
2. Learning rate schedule (flat unless warmup/decay are configured)
3. Epoch means, the same values Fit returns
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
)

// ErrNoMetrics indicates a report was requested before any step was recorded.
var ErrNoMetrics = errors.New("metrics: nothing recorded")

// TrainingMetrics stores per-step metrics collected during training.
type TrainingMetrics struct {
	Steps         []int     `json:"steps"`
	Losses        []float64 `json:"losses"`
	LearningRates []float64 `json:"learning_rates"`
	Epochs        []int     `json:"epochs"`       // Epoch of each step, from 1
	EpochLosses   []float64 `json:"epoch_losses"` // Mean loss per finished epoch
}

// NewTrainingMetrics creates an empty metrics tracker.
func NewTrainingMetrics() *TrainingMetrics {
	return &TrainingMetrics{}
}

// Record adds one optimizer step.
func (m *TrainingMetrics) Record(step int, loss, lr float64, epoch int) {
	m.Steps = append(m.Steps, step)
	m.Losses = append(m.Losses, loss)
	m.LearningRates = append(m.LearningRates, lr)
	m.Epochs = append(m.Epochs, epoch)
}

// RecordEpoch adds the mean loss of a finished epoch.
func (m *TrainingMetrics) RecordEpoch(meanLoss float64) {
	m.EpochLosses = append(m.EpochLosses, meanLoss)
}

// Summary returns the final, minimum and mean step loss.
func (m *TrainingMetrics) Summary() (final, minimum, mean float64, err error) {
	if len(m.Losses) == 0 {
		return 0, 0, 0, ErrNoMetrics
	}
	final = m.Losses[len(m.Losses)-1]
	minimum = floats.Min(m.Losses)
	mean = floats.Sum(m.Losses) / float64(len(m.Losses))
	return final, minimum, mean, nil
}

type reportData struct {
	Title                 string
	Steps                 int
	Final, Minimum, Mean  float64
	StepsJS, LossJS, LRJS template.JS
	EpochJS               template.JS
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, 'Segoe UI', sans-serif; background: #0d1117; color: #c9d1d9; padding: 20px; }
.container { max-width: 1100px; margin: 0 auto; }
h1 { color: #58a6ff; font-size: 26px; }
.stats { display: grid; grid-template-columns: repeat(4, 1fr); gap: 12px; margin: 20px 0; }
.card, .chart { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 14px; }
.label { font-size: 12px; color: #8b949e; text-transform: uppercase; }
.value { font-size: 22px; color: #58a6ff; font-weight: 600; }
.chart { margin-bottom: 16px; }
canvas { width: 100%; height: 280px; }
</style>
</head>
<body>
<div class="container">
<h1>{{.Title}}</h1>
<div class="stats">
<div class="card"><div class="label">Steps</div><div class="value">{{.Steps}}</div></div>
<div class="card"><div class="label">Final loss</div><div class="value">{{printf "%.5f" .Final}}</div></div>
<div class="card"><div class="label">Min loss</div><div class="value">{{printf "%.5f" .Minimum}}</div></div>
<div class="card"><div class="label">Mean loss</div><div class="value">{{printf "%.5f" .Mean}}</div></div>
</div>
<div class="chart"><div class="label">Loss per step</div><canvas id="loss"></canvas></div>
<div class="chart"><div class="label">Learning rate</div><canvas id="lr"></canvas></div>
<div class="chart"><div class="label">Mean loss per epoch</div><canvas id="epoch"></canvas></div>
</div>
<script>
const steps = {{.StepsJS}};
const losses = {{.LossJS}};
const lrs = {{.LRJS}};
const epochs = {{.EpochJS}};

function draw(id, xs, ys, color) {
  const c = document.getElementById(id);
  const r = c.getBoundingClientRect();
  const dpr = window.devicePixelRatio || 1;
  c.width = r.width * dpr; c.height = r.height * dpr;
  const ctx = c.getContext('2d');
  ctx.scale(dpr, dpr);
  const pad = 50, w = r.width - 2 * pad, h = r.height - 2 * pad;
  const vals = ys.filter(v => v !== null);
  if (vals.length === 0) return;
  const lo = Math.min(...vals), hi = Math.max(...vals), span = (hi - lo) || 1;
  const x0 = Math.min(...xs), xspan = (Math.max(...xs) - x0) || 1;
  ctx.strokeStyle = '#30363d';
  ctx.beginPath(); ctx.moveTo(pad, pad); ctx.lineTo(pad, pad + h); ctx.lineTo(pad + w, pad + h); ctx.stroke();
  ctx.fillStyle = '#8b949e'; ctx.font = '11px monospace'; ctx.textAlign = 'right';
  for (let i = 0; i <= 4; i++) {
    const y = pad + h * i / 4;
    ctx.fillText((hi - span * i / 4).toPrecision(4), pad - 6, y + 4);
  }
  ctx.strokeStyle = color; ctx.lineWidth = 2; ctx.beginPath();
  ys.forEach((v, i) => {
    if (v === null) return;
    const x = pad + w * (xs[i] - x0) / xspan;
    const y = pad + h - h * (v - lo) / span;
    i === 0 ? ctx.moveTo(x, y) : ctx.lineTo(x, y);
  });
  ctx.stroke();
}

function render() {
  draw('loss', steps, losses, '#58a6ff');
  draw('lr', steps, lrs, '#56d364');
  draw('epoch', epochs.map((_, i) => i + 1), epochs, '#d29922');
}
window.onload = render;
window.onresize = render;
</script>
</body>
</html>
`))

// SaveHTML writes the metrics as a self-contained HTML report.
func (m *TrainingMetrics) SaveHTML(filename, title string) error {
	final, minimum, mean, err := m.Summary()
	if err != nil {
		return err
	}

	data := reportData{
		Title:   title,
		Steps:   len(m.Steps),
		Final:   final,
		Minimum: minimum,
		Mean:    mean,
	}
	for _, f := range []struct {
		dst *template.JS
		src any
	}{
		{&data.StepsJS, m.Steps},
		{&data.LossJS, jsFloats(m.Losses)},
		{&data.LRJS, jsFloats(m.LearningRates)},
		{&data.EpochJS, jsFloats(m.EpochLosses)},
	} {
		b, err := json.Marshal(f.src)
		if err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
		*f.dst = template.JS(b)
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := reportTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return f.Close()
}

// jsFloats maps non-finite values to nil so they encode as JSON null.
func jsFloats(vs []float64) []*float64 {
	out := make([]*float64, len(vs))
	for i := range vs {
		if !math.IsNaN(vs[i]) && !math.IsInf(vs[i], 0) {
			out[i] = &vs[i]
		}
	}
	return out
}
