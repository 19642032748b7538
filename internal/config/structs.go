package config

// Config represents the complete configuration for the mandoc OCR service.
// It covers every command (serve, recognize, segment, train, validate, test)
// and is loaded from configuration files, environment variables and flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Normalizer NormalizerConfig `mapstructure:"normalizer" yaml:"normalizer" json:"normalizer"`
	Segmenter  SegmenterConfig  `mapstructure:"segmenter" yaml:"segmenter" json:"segmenter"`
	Decoder    DecoderConfig    `mapstructure:"decoder" yaml:"decoder" json:"decoder"`
	OCR        OCRConfig        `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Training configuration (for train, validate and test commands)
	Training TrainingConfig `mapstructure:"training" yaml:"training" json:"training"`

	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// NormalizerConfig contains the word image geometry fed to the model.
type NormalizerConfig struct {
	Width     int    `mapstructure:"width" yaml:"width" json:"width"`
	Height    int    `mapstructure:"height" yaml:"height" json:"height"`
	Binarize  string `mapstructure:"binarize" yaml:"binarize" json:"binarize"`
	Threshold int    `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
}

// SegmenterConfig contains word segmentation settings.
type SegmenterConfig struct {
	ThresholdMethod string  `mapstructure:"threshold_method" yaml:"threshold_method" json:"threshold_method"`
	BlockSize       int     `mapstructure:"block_size" yaml:"block_size" json:"block_size"`
	C               float64 `mapstructure:"c" yaml:"c" json:"c"`
	SauvolaK        float64 `mapstructure:"sauvola_k" yaml:"sauvola_k" json:"sauvola_k"`
	SauvolaWindow   int     `mapstructure:"sauvola_window" yaml:"sauvola_window" json:"sauvola_window"`
	KernelWidth     int     `mapstructure:"kernel_width" yaml:"kernel_width" json:"kernel_width"`
	KernelHeight    int     `mapstructure:"kernel_height" yaml:"kernel_height" json:"kernel_height"`
	MinArea         int     `mapstructure:"min_area" yaml:"min_area" json:"min_area"`
	Padding         int     `mapstructure:"padding" yaml:"padding" json:"padding"`
	Direction       string  `mapstructure:"direction" yaml:"direction" json:"direction"`
	ReverseOutput   bool    `mapstructure:"reverse_output" yaml:"reverse_output" json:"reverse_output"`
}

// DecoderConfig contains the sequence model and CTC decoding settings.
type DecoderConfig struct {
	Type            string `mapstructure:"type" yaml:"type" json:"type"`
	BeamWidth       int    `mapstructure:"beam_width" yaml:"beam_width" json:"beam_width"`
	Layout          string `mapstructure:"layout" yaml:"layout" json:"layout"`
	MaxTextLength   int    `mapstructure:"max_text_length" yaml:"max_text_length" json:"max_text_length"`
	BatchSize       int    `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	MaxModelsToKeep int    `mapstructure:"max_models_to_keep" yaml:"max_models_to_keep" json:"max_models_to_keep"`
	NumThreads      int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	LibraryPath     string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	MustRestore     bool   `mapstructure:"must_restore" yaml:"must_restore" json:"must_restore"`
}

// OCRConfig contains the external OCR engine settings.
type OCRConfig struct {
	Engine          string `mapstructure:"engine" yaml:"engine" json:"engine"`
	Language        string `mapstructure:"language" yaml:"language" json:"language"`
	TempDir         string `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
	// Direction overrides segmenter.direction for the OCR backend.
	Direction string `mapstructure:"direction" yaml:"direction" json:"direction"`
}

// PipelineConfig contains orchestrator settings.
type PipelineConfig struct {
	Workers int         `mapstructure:"workers" yaml:"workers" json:"workers"`
	Clean   CleanConfig `mapstructure:"clean" yaml:"clean" json:"clean"`
}

// CleanConfig contains text post-processing settings.
type CleanConfig struct {
	NormalizeForm   string `mapstructure:"normalize_form" yaml:"normalize_form" json:"normalize_form"`
	RemoveZeroWidth bool   `mapstructure:"remove_zero_width" yaml:"remove_zero_width" json:"remove_zero_width"`
	FilterSymbols   bool   `mapstructure:"filter_symbols" yaml:"filter_symbols" json:"filter_symbols"`
	Allowed         string `mapstructure:"allowed" yaml:"allowed" json:"allowed"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int `mapstructure:"requests_per_day" yaml:"requests_per_day" json:"requests_per_day"`
	MaxDataPerDayMB   int `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// TrainingConfig contains dataset and training loop settings.
type TrainingConfig struct {
	ExperimentName       string `mapstructure:"experiment_name" yaml:"experiment_name" json:"experiment_name"`
	MaxNonImprovedEpochs int    `mapstructure:"max_non_improved_epochs" yaml:"max_non_improved_epochs" json:"max_non_improved_epochs"`
	MaxEpochs            int    `mapstructure:"max_epochs" yaml:"max_epochs" json:"max_epochs"`
	// AuditLog defaults to result.txt in the models directory.
	AuditLog string `mapstructure:"audit_log" yaml:"audit_log" json:"audit_log"`
	Augment  bool   `mapstructure:"augment" yaml:"augment" json:"augment"`

	LabelsFile               string  `mapstructure:"labels_file" yaml:"labels_file" json:"labels_file"`
	DataDir                  string  `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	ProcessedDir             string  `mapstructure:"processed_dir" yaml:"processed_dir" json:"processed_dir"`
	RegenerateSupportFiles   bool    `mapstructure:"regenerate_support_files" yaml:"regenerate_support_files" json:"regenerate_support_files"`
	TrainingSplit            float64 `mapstructure:"training_split" yaml:"training_split" json:"training_split"`
	ValidationSplit          float64 `mapstructure:"validation_split" yaml:"validation_split" json:"validation_split"`
	SamplesPerEpoch          int     `mapstructure:"samples_per_epoch" yaml:"samples_per_epoch" json:"samples_per_epoch"`
	ValidationSamplesPerStep int     `mapstructure:"validation_samples_per_step" yaml:"validation_samples_per_step" json:"validation_samples_per_step"`
	Seed                     int64   `mapstructure:"seed" yaml:"seed" json:"seed"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled             bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device              int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit         string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
	ArenaExtendStrategy string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
	CUDNNConvAlgoSearch string `mapstructure:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search" json:"cudnn_conv_algo_search"`
	CopyInDefaultStream bool   `mapstructure:"copy_in_default_stream" yaml:"copy_in_default_stream" json:"copy_in_default_stream"`
}
