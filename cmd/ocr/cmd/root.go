package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/config"
	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
	"github.com/m2i-duo/mandoc-ocr-api/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mandoc",
	Short: "Handwritten and printed word recognition",
	Long: `mandoc segments scanned text lines into words and recognizes each word,
either with a trained CTC sequence model or with an external OCR engine.

This tool provides:
- Word segmentation of grayscale scans
- Recognition with best path, beam search or lexicon constrained decoding
- An HTTP and WebSocket API for both backends
- Training, validation and testing against labeled word datasets

Examples:
  mandoc recognize line.png
  mandoc recognize scan.pdf --backend tesseract --format text
  mandoc segment line.png --out words/
  mandoc serve --port 8080`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion(cmd.OutOrStdout())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/mandoc, /etc/mandoc)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing checkpoints and vocabulary files (also "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger(cfg, cmd.ErrOrStderr()))
		return nil
	}
}

// initConfig loads .env files, then the config file and environment.
// Errors are reported by GetConfig so commands can return them.
func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	configLoader = config.NewLoader()
}

// GetConfig returns the effective configuration, including flags bound to
// viper after the initial load.
func GetConfig() (*config.Config, error) {
	loader := GetConfigLoader()
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = loader.LoadWithFile(cfgFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	globalConfig = cfg
	return cfg, nil
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

// newLogger builds the process logger from log_level, log_format and verbose.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch strings.ToLower(cfg.LogLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printVersion(w io.Writer) {
	v, commit, date := version.Info()
	_, _ = fmt.Fprintf(w, "mandoc version %s\n", v)
	_, _ = fmt.Fprintf(w, "Commit: %s\n", commit)
	_, _ = fmt.Fprintf(w, "Date: %s\n", date)
}

func versionString() string {
	v, _, _ := version.Info()
	return v
}
