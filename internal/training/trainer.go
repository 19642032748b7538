// Package training runs the epoch loop of the word model: train on random
// batches, validate, keep the best snapshots and stop when validation no
// longer improves.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/dataset"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
)

// Model is the part of recognizer.Model the loop drives.
type Model interface {
	TrainBatch(ctx context.Context, batch recognizer.Batch) (float64, error)
	InferBatch(ctx context.Context, batch recognizer.Batch, calcProbability bool) ([]string, []float64, error)
	Save(epoch int) (string, error)
}

// Data is the batch generator interface.
type Data interface {
	SelectTrainingSet()
	SelectValidationSet()
	SelectTestSet()
	HasNext() bool
	GetNext() (recognizer.Batch, error)
	GetIteratorInfo() (current, total int)
}

// Config configures the loop.
type Config struct {
	ExperimentName string `mapstructure:"experiment_name" yaml:"experiment_name" json:"experiment_name"`
	// MaxNonImprovedEpochs stops training after that many epochs without a
	// better validation character error rate; 0 disables early stopping.
	MaxNonImprovedEpochs int `mapstructure:"max_non_improved_epochs" yaml:"max_non_improved_epochs" json:"max_non_improved_epochs"`
	// MaxEpochs bounds the loop; 0 means no bound.
	MaxEpochs    int    `mapstructure:"max_epochs" yaml:"max_epochs" json:"max_epochs"`
	AuditLogPath string `mapstructure:"audit_log" yaml:"audit_log" json:"audit_log"`

	Logger *slog.Logger `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig stops after five epochs without improvement.
func DefaultConfig() Config {
	return Config{
		ExperimentName:       "word recognition",
		MaxNonImprovedEpochs: 5,
	}
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch      int        `json:"epoch"`
	Batches    int        `json:"batches"`
	MeanLoss   float64    `json:"mean_loss"`
	Validation Evaluation `json:"validation"`
	Improved   bool       `json:"improved"`
	Snapshot   string     `json:"snapshot,omitempty"`
}

// Summary is the outcome of Train.
type Summary struct {
	Epochs            []EpochResult     `json:"epochs"`
	BestEpoch         int               `json:"best_epoch"`
	BestCharErrorRate float64           `json:"best_char_error_rate"`
	EarlyStopped      bool              `json:"early_stopped"`
	Processing        pipeline.Snapshot `json:"processing"`
}

// Trainer owns one training or evaluation run.
type Trainer struct {
	model  Model
	data   Data
	cfg    Config
	audit  *AuditLog
	acc    pipeline.Accumulator
	logger *slog.Logger
	now    func() time.Time
	start  time.Time
}

// New creates a trainer. audit may be nil.
func New(model Model, data Data, cfg Config, audit *AuditLog) (*Trainer, error) {
	if model == nil || data == nil {
		return nil, errors.New("trainer needs a model and a data generator")
	}
	if cfg.MaxNonImprovedEpochs < 0 || cfg.MaxEpochs < 0 {
		return nil, errors.New("epoch limits must be >= 0")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		model:  model,
		data:   data,
		cfg:    cfg,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Processing returns the accumulated batch processing time so far.
func (t *Trainer) Processing() pipeline.Snapshot { return t.acc.Snapshot() }

// Train loops over epochs until validation stops improving, MaxEpochs is
// reached or ctx is cancelled. A snapshot is saved whenever the validation
// character error rate improves.
func (t *Trainer) Train(ctx context.Context, status Status) (Summary, error) {
	t.start = t.now()
	status.Start = t.start
	if status.ExperimentName == "" {
		status.ExperimentName = t.cfg.ExperimentName
	}
	if err := t.audit.Operation(status.ExperimentName, "Training Using Dataset: training"); err != nil {
		return Summary{}, err
	}
	if err := t.audit.InitialStatus(status); err != nil {
		return Summary{}, err
	}

	summary := Summary{BestCharErrorRate: math.Inf(1)}
	noImprovement := 0
	for epoch := 1; t.cfg.MaxEpochs == 0 || epoch <= t.cfg.MaxEpochs; epoch++ {
		res, err := t.epoch(ctx, epoch)
		if err != nil {
			summary.Processing = t.acc.Snapshot()
			return summary, err
		}

		if res.Validation.CharErrorRate() < summary.BestCharErrorRate {
			path, err := t.model.Save(epoch)
			if err != nil {
				summary.Processing = t.acc.Snapshot()
				return summary, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			res.Improved = true
			res.Snapshot = path
			summary.BestCharErrorRate = res.Validation.CharErrorRate()
			summary.BestEpoch = epoch
			noImprovement = 0
		} else {
			noImprovement++
		}
		summary.Epochs = append(summary.Epochs, res)

		t.logger.Info("epoch finished",
			"epoch", epoch,
			"loss", res.MeanLoss,
			"cer", res.Validation.CharErrorRate(),
			"word_accuracy", res.Validation.WordAccuracy(),
			"improved", res.Improved,
		)
		if err := t.audit.Epoch(res); err != nil {
			return summary, err
		}

		stop := t.cfg.MaxNonImprovedEpochs > 0 && noImprovement >= t.cfg.MaxNonImprovedEpochs
		if stop {
			summary.EarlyStopped = true
			if err := t.audit.Stopped(t.cfg.MaxNonImprovedEpochs); err != nil {
				return summary, err
			}
		}
		if err := t.audit.Execution(t.start, t.now(), t.acc.Snapshot(), res.Validation); err != nil {
			return summary, err
		}
		if stop {
			break
		}
	}
	summary.Processing = t.acc.Snapshot()
	return summary, nil
}

func (t *Trainer) epoch(ctx context.Context, epoch int) (EpochResult, error) {
	res := EpochResult{Epoch: epoch}
	t.data.SelectTrainingSet()
	var lossSum float64
	for t.data.HasNext() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		begin := time.Now()
		cur, total := t.data.GetIteratorInfo()
		batch, err := t.data.GetNext()
		if err != nil {
			return res, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		loss, err := t.model.TrainBatch(ctx, batch)
		if err != nil {
			return res, fmt.Errorf("epoch %d batch %d: %w", epoch, cur, err)
		}
		t.acc.AddDuration(time.Since(begin))
		lossSum += loss
		res.Batches++
		t.logger.Debug("training batch", "epoch", epoch, "batch", cur, "total", total, "loss", loss)
	}
	if res.Batches > 0 {
		res.MeanLoss = lossSum / float64(res.Batches)
	}

	eval, err := t.Evaluate(ctx, dataset.Validation)
	if err != nil {
		return res, err
	}
	res.Validation = eval
	return res, nil
}

// Evaluate recognizes every batch of the validation or test split.
func (t *Trainer) Evaluate(ctx context.Context, split dataset.Split) (Evaluation, error) {
	switch split {
	case dataset.Validation:
		t.data.SelectValidationSet()
	case dataset.Test:
		t.data.SelectTestSet()
	default:
		return Evaluation{}, fmt.Errorf("cannot evaluate on the %s split", split)
	}

	var eval Evaluation
	for t.data.HasNext() {
		if err := ctx.Err(); err != nil {
			return eval, err
		}
		begin := time.Now()
		cur, total := t.data.GetIteratorInfo()
		batch, err := t.data.GetNext()
		if err != nil {
			return eval, err
		}
		texts, _, err := t.model.InferBatch(ctx, batch, false)
		if err != nil {
			return eval, fmt.Errorf("%s batch %d: %w", split, cur, err)
		}
		t.acc.AddDuration(time.Since(begin))
		for i, text := range texts {
			eval.Add(batch.GroundTruth[i], text)
		}
		t.logger.Debug("evaluated batch", "split", split.String(), "batch", cur, "total", total)
	}
	return eval, nil
}

// Run evaluates a restored model on split and records the result in the
// audit log.
func (t *Trainer) Run(ctx context.Context, split dataset.Split) (Evaluation, error) {
	start := t.now()
	if err := t.audit.Operation(t.cfg.ExperimentName, "Validation/Testing Using Dataset: "+split.String()); err != nil {
		return Evaluation{}, err
	}
	eval, err := t.Evaluate(ctx, split)
	if err != nil {
		return eval, err
	}
	t.logger.Info("evaluation finished",
		"split", split.String(),
		"words", eval.Words,
		"cer", eval.CharErrorRate(),
		"word_accuracy", eval.WordAccuracy(),
	)
	return eval, t.audit.Execution(start, t.now(), t.acc.Snapshot(), eval)
}
