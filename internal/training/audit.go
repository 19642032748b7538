package training

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
)

const auditTimeLayout = "01/02/2006, 15:04:05"

const auditRule = "____________________________________________________________"

// Status is the run description written once at the start of training.
type Status struct {
	ExperimentName           string
	BaseName                 string
	Start                    time.Time
	TrainingSetSize          int
	ValidationSetSize        int
	SamplesPerEpoch          int
	ValidationSamplesPerStep int
	BatchSize                int
	TrainingSplit            float64
	ValidationSplit          float64
	ImageWidth               int
	ImageHeight              int
	MaxTextLength            int
	Binarize                 string
	Augment                  bool
	Decoder                  string
}

// AuditLog appends human readable run reports, one block per event.
type AuditLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewAuditLog writes to w.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{w: w}
}

// OpenAuditLog appends to the file at path, creating it if needed.
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // G304: configured path
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLog{w: f, closer: f}, nil
}

// Close closes the underlying file, if any.
func (a *AuditLog) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func (a *AuditLog) write(s string) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := io.WriteString(a.w, s)
	return err
}

// Operation records the experiment name and the kind of run.
func (a *AuditLog) Operation(experiment, operation string) error {
	return a.write(fmt.Sprintf("EXPERIMENT_NAME: %s\n%s\n", experiment, operation))
}

// InitialStatus records the run parameters.
func (a *AuditLog) InitialStatus(s Status) error {
	var b strings.Builder
	b.WriteString(auditRule + "\n")
	fmt.Fprintf(&b, "Experiment Name: %s\n", s.ExperimentName)
	fmt.Fprintf(&b, "Base File Name: %s\n", s.BaseName)
	fmt.Fprintf(&b, "Start Execution Time: %s\n", s.Start.Format(auditTimeLayout))
	fmt.Fprintf(&b, "Training set size: %d\n", s.TrainingSetSize)
	fmt.Fprintf(&b, "Validation set size: %d\n", s.ValidationSetSize)
	fmt.Fprintf(&b, "Training Samples per epoch: %d\n", s.SamplesPerEpoch)
	fmt.Fprintf(&b, "Validation Samples per step: %d\n", s.ValidationSamplesPerStep)
	fmt.Fprintf(&b, "Batch size: %d\n", s.BatchSize)
	fmt.Fprintf(&b, "TRAINING_DATASET_SIZE: %g\n", s.TrainingSplit)
	fmt.Fprintf(&b, "VALIDATION_DATASET_SPLIT_SIZE: %g\n", s.ValidationSplit)
	fmt.Fprintf(&b, "IMAGE_WIDTH: %d\n", s.ImageWidth)
	fmt.Fprintf(&b, "IMAGE_HEIGHT: %d\n", s.ImageHeight)
	fmt.Fprintf(&b, "MAX_TEXT_LENGTH: %d\n", s.MaxTextLength)
	fmt.Fprintf(&b, "BINARIZE: %s\n", s.Binarize)
	fmt.Fprintf(&b, "AUGMENT_IMAGE: %t\n", s.Augment)
	fmt.Fprintf(&b, "DECODER: %s\n\n", s.Decoder)
	return a.write(b.String())
}

// Epoch records whether the epoch improved the character error rate.
func (a *AuditLog) Epoch(r EpochResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Epoch Number %d.\n", r.Epoch)
	if r.Improved {
		b.WriteString("Character error rate improved, saving model\n")
	} else {
		b.WriteString("Character error rate not improved\n")
	}
	return a.write(b.String())
}

// Stopped records early termination.
func (a *AuditLog) Stopped(epochs int) error {
	return a.write(fmt.Sprintf("No more improvement since %d epochs.\n", epochs))
}

// Execution records timing and accuracy after a validation or test pass.
func (a *AuditLog) Execution(start, end time.Time, processing pipeline.Snapshot, e Evaluation) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Start Execution Time: %s\n", start.Format(auditTimeLayout))
	fmt.Fprintf(&b, "End Execution Time: %s\n", end.Format(auditTimeLayout))
	fmt.Fprintf(&b, "Accumulated Processing Time: %.4f minutes\n", processing.Minutes())
	fmt.Fprintf(&b, "Characters Success Rate: %.4f%%\n", e.CharSuccessRate()*100)
	fmt.Fprintf(&b, "Words Success Rate: %.4f%%\n\n", e.WordAccuracy()*100)
	return a.write(b.String())
}
