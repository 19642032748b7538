package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/m2i-duo/mandoc-ocr-api/internal/config"
	"github.com/m2i-duo/mandoc-ocr-api/internal/dataset"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/training"
	"github.com/spf13/cobra"
)

// trainCmd represents the train command.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the word model",
	Long: `Train the word model on a labelled dataset.

The labels file lists "<image path>\t<text>" per line. Each epoch trains on
random batches, validates, and saves a snapshot when the validation character
error rate improves. Training stops after training.max_non_improved_epochs
epochs without improvement.

Examples:
  mandoc train --labels data/words.txt
  mandoc train --labels data/words.txt --regenerate --max-epochs 50`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Evaluate the model on the validation split",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEvaluate(cmd, dataset.Validation)
	},
}

// testCmd represents the test command.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate the model on the test split",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEvaluate(cmd, dataset.Test)
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(testCmd)

	for _, c := range []*cobra.Command{trainCmd, validateCmd, testCmd} {
		c.Flags().String("labels", "", "labels file (default from training.labels_file)")
		c.Flags().String("data-dir", "", "directory relative image paths are resolved against")
		c.Flags().String("experiment", "", "experiment name written to the audit log")
	}
	trainCmd.Flags().Bool("regenerate", false, "re-split the dataset and rewrite the support files")
	trainCmd.Flags().Int("max-epochs", 0, "stop after this many epochs (0 = no bound)")
	trainCmd.Flags().Int("patience", 0, "epochs without improvement before stopping")
}

// applyTrainingFlags copies the dataset flags shared by train, validate and test.
func applyTrainingFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("labels") {
		cfg.Training.LabelsFile, _ = flags.GetString("labels")
	}
	if flags.Changed("data-dir") {
		cfg.Training.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("experiment") {
		cfg.Training.ExperimentName, _ = flags.GetString("experiment")
	}
	if f := flags.Lookup("regenerate"); f != nil && f.Changed {
		cfg.Training.RegenerateSupportFiles, _ = flags.GetBool("regenerate")
	}
	if f := flags.Lookup("max-epochs"); f != nil && f.Changed {
		cfg.Training.MaxEpochs, _ = flags.GetInt("max-epochs")
	}
	if f := flags.Lookup("patience"); f != nil && f.Changed {
		cfg.Training.MaxNonImprovedEpochs, _ = flags.GetInt("patience")
	}
	if cfg.Training.LabelsFile == "" {
		return fmt.Errorf("a labels file is required (--labels or training.labels_file)")
	}
	return cfg.Validate()
}

// session bundles what train, validate and test open.
type session struct {
	data    *dataset.Generator
	model   *recognizer.Model
	audit   *training.AuditLog
	trainer *training.Trainer
}

func (s *session) Close() {
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			slog.Warn("Failed to close audit log", "error", err)
		}
	}
	if s.model != nil {
		if err := s.model.Close(); err != nil {
			slog.Warn("Failed to close model", "error", err)
		}
	}
}

// openSession loads the dataset first so that freshly written support files
// are seen by the model's vocabulary.
func openSession(cfg *config.Config, mustRestore bool) (*session, error) {
	logger := slog.Default()
	data, err := dataset.Load(cfg.ToDatasetConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	cfg.Decoder.MustRestore = mustRestore
	modelCfg, err := cfg.ToModelConfig(logger)
	if err != nil {
		return nil, err
	}
	model, err := recognizer.NewModel(modelCfg)
	if err != nil {
		return nil, err
	}
	s := &session{data: data, model: model}

	trainCfg := cfg.ToTrainingConfig(logger)
	audit, err := training.OpenAuditLog(trainCfg.AuditLogPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.audit = audit

	s.trainer, err = training.New(model, data, trainCfg, audit)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := applyTrainingFlags(cmd, cfg); err != nil {
		return err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := s.trainer.Train(ctx, trainingStatus(cfg, s.data))
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	return writeJSONOutput(cmd, summary)
}

func runEvaluate(cmd *cobra.Command, split dataset.Split) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if err := applyTrainingFlags(cmd, cfg); err != nil {
		return err
	}
	s, err := openSession(cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	eval, err := s.trainer.Run(ctx, split)
	if err != nil {
		return fmt.Errorf("%s failed: %w", split, err)
	}
	return writeJSONOutput(cmd, evaluationReport{
		Split:           split.String(),
		Words:           eval.Words,
		WordsOK:         eval.WordsOK,
		CharErrorRate:   eval.CharErrorRate(),
		CharSuccessRate: eval.CharSuccessRate(),
		WordAccuracy:    eval.WordAccuracy(),
	})
}

type evaluationReport struct {
	Split           string  `json:"split"`
	Words           int     `json:"words"`
	WordsOK         int     `json:"words_ok"`
	CharErrorRate   float64 `json:"char_error_rate"`
	CharSuccessRate float64 `json:"char_success_rate"`
	WordAccuracy    float64 `json:"word_accuracy"`
}

func trainingStatus(cfg *config.Config, data *dataset.Generator) training.Status {
	return training.Status{
		ExperimentName:           cfg.Training.ExperimentName,
		BaseName:                 strings.TrimSuffix(filepath.Base(cfg.Training.LabelsFile), filepath.Ext(cfg.Training.LabelsFile)),
		TrainingSetSize:          len(data.Samples(dataset.Training)),
		ValidationSetSize:        len(data.Samples(dataset.Validation)),
		SamplesPerEpoch:          cfg.Training.SamplesPerEpoch,
		ValidationSamplesPerStep: cfg.Training.ValidationSamplesPerStep,
		BatchSize:                cfg.Decoder.BatchSize,
		TrainingSplit:            cfg.Training.TrainingSplit,
		ValidationSplit:          cfg.Training.ValidationSplit,
		ImageWidth:               cfg.Normalizer.Width,
		ImageHeight:              cfg.Normalizer.Height,
		MaxTextLength:            cfg.Decoder.MaxTextLength,
		Binarize:                 cfg.Normalizer.Binarize,
		Augment:                  cfg.Training.Augment,
		Decoder:                  cfg.Decoder.Type,
	}
}

func writeJSONOutput(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
