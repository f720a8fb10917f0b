package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements training for the UFCNN: optimizers, a learning rate
// schedule, gradient clipping and the batch loop.
//
// THE TRAINING PROCESS:
//
// 1. Forward Pass:
//    - Input series (batch, time, NInputs) → UFCNN → predictions
//    - Predictions vs targets → scalar loss (MSE, or cross-entropy for
//      per-step classification)
//
// 2. Backward Pass:
//    - Session.Backward walks the graph in reverse and accumulates
//      ∂Loss/∂Parameter into every filter and bias
//
// 3. Optimization:
//    - RMSProp by default (what the reference setup trains with), Adam and
//      SGD available
//
// 4. Iteration:
//    - Series are shuffled each epoch and cut into batches along axis 0
//    - Every batch is a full-length series: the network is causal, so one
//      forward pass yields a prediction for every time step at once
//
// PERFORMANCE CHARACTERISTICS:
//
// Cost per step is dominated by the convolutions (2*NLevels+1 of them),
// each a (batch*time, K*C) @ (K*C, F) product forward and two such products
// backward.
//
// ===========================================================================

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// Loss names accepted by TrainingConfig.Loss.
const (
	LossMSE          = "mse"
	LossCrossEntropy = "cross_entropy"
)

// TrainingConfig holds hyperparameters for training.
type TrainingConfig struct {
	// Optimization
	LearningRate      float64 `json:"learning_rate"`
	WeightDecay       float64 `json:"weight_decay"`        // L2 regularization
	GradientClipValue float64 `json:"gradient_clip_value"` // Global-norm clip; 0 disables

	// Training
	BatchSize int    `json:"batch_size"`
	NumEpochs int    `json:"num_epochs"`
	MaxSteps  int    `json:"max_steps"` // Max training steps (overrides epochs if set)
	Loss      string `json:"loss"`      // LossMSE or LossCrossEntropy
	Seed      int64  `json:"seed"`      // Shuffle seed; SeedRandom for time-based

	// Learning rate schedule
	WarmupSteps int     `json:"warmup_steps"` // Linear warmup from 0 to LearningRate
	DecaySteps  int     `json:"decay_steps"`  // Cosine decay after warmup; 0 keeps LR constant
	MinLR       float64 `json:"min_lr"`       // Minimum learning rate

	// Optimization algorithm
	Optimizer       string  `json:"optimizer"` // "rmsprop", "adam", "sgd"
	AdamBeta1       float64 `json:"adam_beta1"`
	AdamBeta2       float64 `json:"adam_beta2"`
	AdamEpsilon     float64 `json:"adam_epsilon"`
	RMSPropDecay    float64 `json:"rmsprop_decay"`
	RMSPropMomentum float64 `json:"rmsprop_momentum"`
	RMSPropEpsilon  float64 `json:"rmsprop_epsilon"`

	// Logging
	LogInterval int `json:"log_interval"` // Log every N steps

	// Hardware
	Compute ComputeConfig `json:"-"`
}

// DefaultTrainingConfig returns the reference training setup: RMSProp at
// 0.01, batches of 5 series, 20 epochs, MSE loss.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate:      0.01,
		WeightDecay:       0,
		GradientClipValue: 0,

		BatchSize: 5,
		NumEpochs: 20,
		MaxSteps:  0, // Unlimited
		Loss:      LossMSE,
		Seed:      0,

		WarmupSteps: 0,
		DecaySteps:  0,
		MinLR:       1e-5,

		Optimizer:       "rmsprop",
		AdamBeta1:       0.9,
		AdamBeta2:       0.999,
		AdamEpsilon:     1e-8,
		RMSPropDecay:    0.9,
		RMSPropMomentum: 0,
		RMSPropEpsilon:  1e-10,

		LogInterval: 10,

		Compute: DefaultComputeConfig(),
	}
}

// Optimizer interface for different optimization algorithms.
type Optimizer interface {
	// Step performs a single optimization step.
	// Updates parameters using their gradients.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears all gradients.
	ZeroGrad(params []*Tensor)
}

// SGDOptimizer implements Stochastic Gradient Descent.
type SGDOptimizer struct {
	weightDecay float64
}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer(weightDecay float64) *SGDOptimizer {
	return &SGDOptimizer{
		weightDecay: weightDecay,
	}
}

// Step updates parameters using SGD: param -= lr * (grad + weightDecay * param).
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		for i := range p.data {
			grad := p.grad[i] + opt.weightDecay*p.data[i]
			p.data[i] -= lr * grad
		}
	}
}

// ZeroGrad clears gradients.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) {
	zeroGrads(params)
}

// AdamOptimizer implements Adam optimization algorithm.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//	v_t = beta2 * v_{t-1} + (1 - beta2) * grad²
//	m_hat = m_t / (1 - beta1^t)  // Bias correction
//	v_hat = v_t / (1 - beta2^t)
//	param -= lr * m_hat / (sqrt(v_hat) + epsilon)
type AdamOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	// State (one per parameter)
	m []*Tensor // First moment (momentum)
	v []*Tensor // Second moment (variance)
	t int       // Time step (for bias correction)
}

// NewAdamOptimizer creates an Adam optimizer.
func NewAdamOptimizer(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *AdamOptimizer {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))

	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}

	return &AdamOptimizer{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

// Step performs Adam update.
func (opt *AdamOptimizer) Step(params []*Tensor, lr float64) {
	opt.t++

	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		m, v := opt.m[i].data, opt.v[i].data
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]

			m[j] = opt.beta1*m[j] + (1.0-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1.0-opt.beta2)*grad*grad

			mHat := m[j] / bias1
			vHat := v[j] / bias2

			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears gradients.
func (opt *AdamOptimizer) ZeroGrad(params []*Tensor) {
	zeroGrads(params)
}

// RMSPropOptimizer divides each step by a running RMS of the gradient.
//
//	ms  = decay * ms + (1 - decay) * grad²
//	mom = momentum * mom + lr * grad / sqrt(ms + epsilon)
//	param -= mom
//
// The mean-square accumulator starts at one, not zero, so the first steps
// are not inflated by a near-zero denominator.
type RMSPropOptimizer struct {
	decay       float64
	momentum    float64
	epsilon     float64
	weightDecay float64

	ms  []*Tensor
	mom []*Tensor
}

// NewRMSPropOptimizer creates an RMSProp optimizer.
func NewRMSPropOptimizer(params []*Tensor, decay, momentum, epsilon, weightDecay float64) *RMSPropOptimizer {
	ms := make([]*Tensor, len(params))
	mom := make([]*Tensor, len(params))

	for i, p := range params {
		ms[i] = NewTensor(p.shape...)
		for j := range ms[i].data {
			ms[i].data[j] = 1
		}
		mom[i] = NewTensor(p.shape...)
	}

	return &RMSPropOptimizer{
		decay:       decay,
		momentum:    momentum,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		ms:          ms,
		mom:         mom,
	}
}

// Step performs RMSProp update.
func (opt *RMSPropOptimizer) Step(params []*Tensor, lr float64) {
	for i, p := range params {
		ms, mom := opt.ms[i].data, opt.mom[i].data
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]

			ms[j] = opt.decay*ms[j] + (1.0-opt.decay)*grad*grad
			mom[j] = opt.momentum*mom[j] + lr*grad/math.Sqrt(ms[j]+opt.epsilon)

			p.data[j] -= mom[j]
		}
	}
}

// ZeroGrad clears gradients.
func (opt *RMSPropOptimizer) ZeroGrad(params []*Tensor) {
	zeroGrads(params)
}

func zeroGrads(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// NewOptimizer builds the optimizer named in cfg.Optimizer.
func NewOptimizer(params []*Tensor, cfg TrainingConfig) (Optimizer, error) {
	switch cfg.Optimizer {
	case "rmsprop":
		return NewRMSPropOptimizer(params, cfg.RMSPropDecay, cfg.RMSPropMomentum,
			cfg.RMSPropEpsilon, cfg.WeightDecay), nil
	case "adam":
		return NewAdamOptimizer(params, cfg.AdamBeta1, cfg.AdamBeta2,
			cfg.AdamEpsilon, cfg.WeightDecay), nil
	case "sgd":
		return NewSGDOptimizer(cfg.WeightDecay), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
}

// LRScheduler implements learning rate scheduling.
type LRScheduler struct {
	baseLR      float64
	minLR       float64
	warmupSteps int
	decaySteps  int
	step        int
}

// NewLRScheduler creates a learning rate scheduler.
func NewLRScheduler(baseLR, minLR float64, warmupSteps, decaySteps int) *LRScheduler {
	return &LRScheduler{
		baseLR:      baseLR,
		minLR:       minLR,
		warmupSteps: warmupSteps,
		decaySteps:  decaySteps,
	}
}

// GetLR advances the schedule by one step and returns the learning rate.
// Uses linear warmup followed by cosine decay; without a decay phase the
// rate stays at baseLR after warmup.
func (sched *LRScheduler) GetLR() float64 {
	sched.step++

	// Phase 1: Linear warmup
	if sched.step < sched.warmupSteps {
		return sched.baseLR * float64(sched.step) / float64(sched.warmupSteps)
	}

	if sched.decaySteps <= sched.warmupSteps {
		return sched.baseLR
	}

	// Phase 2: Cosine decay
	if sched.step < sched.decaySteps {
		progress := float64(sched.step-sched.warmupSteps) / float64(sched.decaySteps-sched.warmupSteps)
		cosine := 0.5 * (1.0 + math.Cos(math.Pi*progress))
		return sched.minLR + (sched.baseLR-sched.minLR)*cosine
	}

	// Phase 3: Constant minimum
	return sched.minLR
}

// clipGradients clips gradients by global norm and returns the norm before clipping.
func clipGradients(params []*Tensor, maxNorm float64) float64 {
	globalNorm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			globalNorm += g * g
		}
	}
	globalNorm = math.Sqrt(globalNorm)

	if globalNorm > maxNorm {
		scale := maxNorm / globalNorm
		for _, p := range params {
			for i := range p.grad {
				p.grad[i] *= scale
			}
		}
	}
	return globalNorm
}

// Trainer fits a UFCNN with one optimizer and loss.
type Trainer struct {
	model     *UFCNN
	cfg       TrainingConfig
	session   *Session
	loss      *Node
	target    *Node // model.Y for MSE, an integer label placeholder for cross-entropy
	params    []*Tensor
	optimizer Optimizer
	scheduler *LRScheduler
	metrics   *TrainingMetrics
	rng       *rand.Rand
	log       *logrus.Entry
	step      int
	epoch     int // current epoch inside Fit, from 1; 0 outside Fit
}

// NewTrainer adds the loss to the model's graph and prepares the optimizer.
func NewTrainer(model *UFCNN, cfg TrainingConfig, logger *logrus.Logger) (*Trainer, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	tr := &Trainer{
		model:   model,
		cfg:     cfg,
		params:  model.Parameters(),
		metrics: NewTrainingMetrics(),
		rng:     rand.New(newSource(cfg.Seed)),
		log:     logger.WithField("component", "trainer"),
	}

	var err error
	switch cfg.Loss {
	case LossMSE, "":
		tr.target = model.Y
		tr.loss, err = MSELoss(model.YHat, model.Y)
	case LossCrossEntropy:
		tr.target = model.Graph.Placeholder("labels", -1, -1)
		tr.loss, err = CrossEntropy(model.YHat, tr.target)
	default:
		return nil, fmt.Errorf("unknown loss %q", cfg.Loss)
	}
	if err != nil {
		return nil, fmt.Errorf("building loss: %w", err)
	}

	tr.optimizer, err = NewOptimizer(tr.params, cfg)
	if err != nil {
		return nil, err
	}

	tr.scheduler = NewLRScheduler(cfg.LearningRate, cfg.MinLR, cfg.WarmupSteps, cfg.DecaySteps)
	tr.session = NewSession(model.Graph, WithSessionLogger(tr.log))
	return tr, nil
}

// Target returns the placeholder fed with targets (Y or labels).
func (tr *Trainer) Target() *Node { return tr.target }

// Metrics returns the per-step history recorded so far.
func (tr *Trainer) Metrics() *TrainingMetrics { return tr.metrics }

// Step performs one optimization step on a batch and returns its loss.
func (tr *Trainer) Step(x, y *Tensor) (float64, error) {
	tr.optimizer.ZeroGrad(tr.params)

	loss, err := tr.session.Backward(tr.loss, Feeds{tr.model.X: x, tr.target: y})
	if err != nil {
		return 0, err
	}

	if tr.cfg.GradientClipValue > 0 {
		clipGradients(tr.params, tr.cfg.GradientClipValue)
	}

	lr := tr.scheduler.GetLR()
	tr.optimizer.Step(tr.params, lr)
	tr.step++
	tr.metrics.Record(tr.step, loss, lr, tr.epoch)

	if tr.cfg.LogInterval > 0 && tr.step%tr.cfg.LogInterval == 0 {
		tr.log.WithFields(logrus.Fields{"step": tr.step, "loss": loss, "lr": lr}).Debug("step")
	}
	return loss, nil
}

// Fit trains on series x and targets y for the configured number of epochs
// and returns the mean training loss of each epoch. It stops early when
// ctx is cancelled or MaxSteps is reached.
func (tr *Trainer) Fit(ctx context.Context, x, y *Tensor) ([]float64, error) {
	if x.shape[0] != y.shape[0] {
		return nil, fmt.Errorf("%w: %d input series, %d target series", ErrShapeMismatch, x.shape[0], y.shape[0])
	}

	prev := GetGlobalComputeConfig()
	SetGlobalComputeConfig(tr.cfg.Compute)
	defer SetGlobalComputeConfig(prev)

	nSeries := x.shape[0]
	order := make([]int, nSeries)
	for i := range order {
		order[i] = i
	}

	tr.log.WithFields(logrus.Fields{
		"series":     nSeries,
		"batch_size": tr.cfg.BatchSize,
		"epochs":     tr.cfg.NumEpochs,
		"optimizer":  tr.cfg.Optimizer,
		"lr":         tr.cfg.LearningRate,
		"params":     tr.model.NumParameters(),
	}).Info("training started")

	defer func() { tr.epoch = 0 }()

	history := make([]float64, 0, tr.cfg.NumEpochs)
	for epoch := 0; epoch < tr.cfg.NumEpochs; epoch++ {
		tr.epoch = epoch + 1
		start := time.Now()
		tr.rng.Shuffle(nSeries, func(i, j int) { order[i], order[j] = order[j], order[i] })

		total, batches := 0.0, 0
		for i := 0; i < nSeries; i += tr.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			end := min(i+tr.cfg.BatchSize, nSeries)
			loss, err := tr.Step(GatherBatch(x, order[i:end]), GatherBatch(y, order[i:end]))
			if err != nil {
				return history, fmt.Errorf("epoch %d step %d: %w", epoch+1, tr.step, err)
			}
			total += loss
			batches++

			if tr.cfg.MaxSteps > 0 && tr.step >= tr.cfg.MaxSteps {
				break
			}
		}

		mean := total / float64(batches)
		history = append(history, mean)
		tr.metrics.RecordEpoch(mean)
		tr.log.WithFields(logrus.Fields{
			"epoch":    epoch + 1,
			"loss":     mean,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("epoch complete")

		if tr.cfg.MaxSteps > 0 && tr.step >= tr.cfg.MaxSteps {
			tr.log.WithField("max_steps", tr.cfg.MaxSteps).Info("reached max steps")
			break
		}
	}

	return history, nil
}

// Evaluate returns the loss on x, y without updating parameters.
func (tr *Trainer) Evaluate(x, y *Tensor) (float64, error) {
	out, err := tr.session.Run(Feeds{tr.model.X: x, tr.target: y}, tr.loss)
	if err != nil {
		return 0, err
	}
	return out[0].data[0], nil
}
