package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// GPUConfig holds CUDA execution provider options.
type GPUConfig struct {
	UseGPU                bool   `mapstructure:"use_gpu" yaml:"use_gpu" json:"use_gpu"`
	DeviceID              int    `mapstructure:"device_id" yaml:"device_id" json:"device_id"`
	GPUMemLimit           uint64 `mapstructure:"mem_limit" yaml:"mem_limit" json:"mem_limit"` // bytes, 0 = unlimited
	ArenaExtendStrategy   string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
	CUDNNConvAlgoSearch   string `mapstructure:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search" json:"cudnn_conv_algo_search"`
	DoCopyInDefaultStream bool   `mapstructure:"copy_in_default_stream" yaml:"copy_in_default_stream" json:"copy_in_default_stream"`
}

// DefaultGPUConfig returns a CPU-only configuration with CUDA defaults filled in.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy:   "kNextPowerOfTwo",
		CUDNNConvAlgoSearch:   "DEFAULT",
		DoCopyInDefaultStream: true,
	}
}

var (
	validArenaStrategies = map[string]bool{"kNextPowerOfTwo": true, "kSameAsRequested": true}
	validAlgoSearch      = map[string]bool{"EXHAUSTIVE": true, "HEURISTIC": true, "DEFAULT": true}
)

// ValidateGPUConfig checks the CUDA options. CPU-only configs are always valid.
func ValidateGPUConfig(config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if config.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", config.DeviceID)
	}
	if config.ArenaExtendStrategy != "" && !validArenaStrategies[config.ArenaExtendStrategy] {
		return fmt.Errorf("invalid arena extend strategy: %s", config.ArenaExtendStrategy)
	}
	if config.CUDNNConvAlgoSearch != "" && !validAlgoSearch[config.CUDNNConvAlgoSearch] {
		return fmt.Errorf("invalid CUDNN conv algo search: %s", config.CUDNNConvAlgoSearch)
	}
	return nil
}

// cudaSettings renders the provider options as the key/value map ONNX Runtime expects.
func cudaSettings(config GPUConfig) map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(config.DeviceID),
		"do_copy_in_default_stream": "0",
	}
	if config.DoCopyInDefaultStream {
		settings["do_copy_in_default_stream"] = "1"
	}
	if config.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(config.GPUMemLimit, 10)
	}
	if config.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = config.ArenaExtendStrategy
	}
	if config.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = config.CUDNNConvAlgoSearch
	}
	return settings
}

// ConfigureSessionForGPU appends the CUDA execution provider when UseGPU is set.
func ConfigureSessionForGPU(sessionOptions *onnxrt.SessionOptions, config GPUConfig) error {
	if !config.UseGPU {
		return nil
	}
	if err := ValidateGPUConfig(config); err != nil {
		return err
	}

	cudaOpts, err := onnxrt.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(cudaSettings(config)); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
