package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "mandoc"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MANDOC"

	// DotEnvFile is loaded into the process environment before viper reads it.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the root command are visible.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// LoadDotEnv loads the given .env files (DotEnvFile when none are given)
// without overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{DotEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from files, environment variables, and sets defaults.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without the final Validate call.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars only
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// MANDOC_SERVER_PORT for server.port
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("log_format", d.LogFormat)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("normalizer.width", d.Normalizer.Width)
	l.v.SetDefault("normalizer.height", d.Normalizer.Height)
	l.v.SetDefault("normalizer.binarize", d.Normalizer.Binarize)
	l.v.SetDefault("normalizer.threshold", d.Normalizer.Threshold)

	l.v.SetDefault("segmenter.threshold_method", d.Segmenter.ThresholdMethod)
	l.v.SetDefault("segmenter.block_size", d.Segmenter.BlockSize)
	l.v.SetDefault("segmenter.c", d.Segmenter.C)
	l.v.SetDefault("segmenter.sauvola_k", d.Segmenter.SauvolaK)
	l.v.SetDefault("segmenter.sauvola_window", d.Segmenter.SauvolaWindow)
	l.v.SetDefault("segmenter.kernel_width", d.Segmenter.KernelWidth)
	l.v.SetDefault("segmenter.kernel_height", d.Segmenter.KernelHeight)
	l.v.SetDefault("segmenter.min_area", d.Segmenter.MinArea)
	l.v.SetDefault("segmenter.padding", d.Segmenter.Padding)
	l.v.SetDefault("segmenter.direction", d.Segmenter.Direction)
	l.v.SetDefault("segmenter.reverse_output", d.Segmenter.ReverseOutput)

	l.v.SetDefault("decoder.type", d.Decoder.Type)
	l.v.SetDefault("decoder.beam_width", d.Decoder.BeamWidth)
	l.v.SetDefault("decoder.layout", d.Decoder.Layout)
	l.v.SetDefault("decoder.max_text_length", d.Decoder.MaxTextLength)
	l.v.SetDefault("decoder.batch_size", d.Decoder.BatchSize)
	l.v.SetDefault("decoder.max_models_to_keep", d.Decoder.MaxModelsToKeep)
	l.v.SetDefault("decoder.num_threads", d.Decoder.NumThreads)
	l.v.SetDefault("decoder.library_path", d.Decoder.LibraryPath)
	l.v.SetDefault("decoder.must_restore", d.Decoder.MustRestore)

	l.v.SetDefault("ocr.engine", d.OCR.Engine)
	l.v.SetDefault("ocr.language", d.OCR.Language)
	l.v.SetDefault("ocr.temp_dir", d.OCR.TempDir)
	l.v.SetDefault("ocr.credentials_file", d.OCR.CredentialsFile)
	l.v.SetDefault("ocr.direction", d.OCR.Direction)

	l.v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	l.v.SetDefault("pipeline.clean.normalize_form", d.Pipeline.Clean.NormalizeForm)
	l.v.SetDefault("pipeline.clean.remove_zero_width", d.Pipeline.Clean.RemoveZeroWidth)
	l.v.SetDefault("pipeline.clean.filter_symbols", d.Pipeline.Clean.FilterSymbols)
	l.v.SetDefault("pipeline.clean.allowed", d.Pipeline.Clean.Allowed)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.requests_per_day", d.Server.RateLimit.RequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", d.Server.RateLimit.MaxDataPerDayMB)

	l.v.SetDefault("training.experiment_name", d.Training.ExperimentName)
	l.v.SetDefault("training.max_non_improved_epochs", d.Training.MaxNonImprovedEpochs)
	l.v.SetDefault("training.max_epochs", d.Training.MaxEpochs)
	l.v.SetDefault("training.audit_log", d.Training.AuditLog)
	l.v.SetDefault("training.augment", d.Training.Augment)
	l.v.SetDefault("training.labels_file", d.Training.LabelsFile)
	l.v.SetDefault("training.data_dir", d.Training.DataDir)
	l.v.SetDefault("training.processed_dir", d.Training.ProcessedDir)
	l.v.SetDefault("training.regenerate_support_files", d.Training.RegenerateSupportFiles)
	l.v.SetDefault("training.training_split", d.Training.TrainingSplit)
	l.v.SetDefault("training.validation_split", d.Training.ValidationSplit)
	l.v.SetDefault("training.samples_per_epoch", d.Training.SamplesPerEpoch)
	l.v.SetDefault("training.validation_samples_per_step", d.Training.ValidationSamplesPerStep)
	l.v.SetDefault("training.seed", d.Training.Seed)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
	l.v.SetDefault("gpu.arena_extend_strategy", d.GPU.ArenaExtendStrategy)
	l.v.SetDefault("gpu.cudnn_conv_algo_search", d.GPU.CUDNNConvAlgoSearch)
	l.v.SetDefault("gpu.copy_in_default_stream", d.GPU.CopyInDefaultStream)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes DefaultConfig as YAML.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	cfg := DefaultConfig()
	return WriteConfigFile(filename, &cfg)
}

// WriteConfigFile writes cfg as YAML, creating parent directories.
func WriteConfigFile(filename string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists && configDir != "" {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	paths = append(paths, "/etc/"+ConfigFileName)

	return paths
}
