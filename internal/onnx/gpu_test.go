package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGPUConfig(t *testing.T) {
	cfg := DefaultGPUConfig()
	assert.False(t, cfg.UseGPU)
	assert.Equal(t, 0, cfg.DeviceID)
	assert.Equal(t, "kNextPowerOfTwo", cfg.ArenaExtendStrategy)
	assert.Equal(t, "DEFAULT", cfg.CUDNNConvAlgoSearch)
	assert.True(t, cfg.DoCopyInDefaultStream)
}

func TestValidateGPUConfig(t *testing.T) {
	gpu := func(mutate func(*GPUConfig)) GPUConfig {
		cfg := DefaultGPUConfig()
		cfg.UseGPU = true
		mutate(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  GPUConfig
		wantErr bool
	}{
		{"cpu only", GPUConfig{DeviceID: -5, ArenaExtendStrategy: "bogus"}, false},
		{"valid gpu", gpu(func(*GPUConfig) {}), false},
		{"negative device", gpu(func(c *GPUConfig) { c.DeviceID = -1 }), true},
		{"bad arena strategy", gpu(func(c *GPUConfig) { c.ArenaExtendStrategy = "grow" }), true},
		{"bad algo search", gpu(func(c *GPUConfig) { c.CUDNNConvAlgoSearch = "FAST" }), true},
		{"empty strings allowed", gpu(func(c *GPUConfig) {
			c.ArenaExtendStrategy = ""
			c.CUDNNConvAlgoSearch = ""
		}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGPUConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCudaSettings(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.UseGPU = true
	cfg.DeviceID = 1
	cfg.GPUMemLimit = 1 << 30
	cfg.DoCopyInDefaultStream = false

	s := cudaSettings(cfg)
	assert.Equal(t, "1", s["device_id"])
	assert.Equal(t, "1073741824", s["gpu_mem_limit"])
	assert.Equal(t, "0", s["do_copy_in_default_stream"])
	assert.Equal(t, "kNextPowerOfTwo", s["arena_extend_strategy"])

	cfg.GPUMemLimit = 0
	_, ok := cudaSettings(cfg)["gpu_mem_limit"]
	assert.False(t, ok)
}
