// Package onnx runs exported recognition networks with ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// NetworkConfig configures an inference session.
type NetworkConfig struct {
	ModelPath   string
	NumThreads  int
	GPU         GPUConfig
	LibraryPath string
}

// Network wraps a single-input, single-output ONNX session.
type Network struct {
	cfg        NetworkConfig
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	mu         sync.Mutex
}

var envMu sync.Mutex

// initEnvironment points onnxruntime_go at the shared library and initializes
// the runtime once per process.
func initEnvironment(libPath string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()
	if onnxrt.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(libPath, useGPU)
	if err != nil {
		return err
	}
	onnxrt.SetSharedLibraryPath(path)
	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path)
	return nil
}

// Initialize loads the ONNX Runtime shared library without opening a model.
func Initialize(libPath string, useGPU bool) error {
	return initEnvironment(libPath, useGPU)
}

// NewNetwork loads the model at cfg.ModelPath.
func NewNetwork(cfg NetworkConfig) (*Network, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if err := ValidateGPUConfig(cfg.GPU); err != nil {
		return nil, err
	}
	if err := initEnvironment(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()
	if err := ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxrt.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	slog.Debug("loaded network", "model", cfg.ModelPath,
		"input", inputs[0].Dimensions, "output", outputs[0].Dimensions)

	return &Network{cfg: cfg, session: session, inputInfo: inputs[0], outputInfo: outputs[0]}, nil
}

// InputShape returns the declared input dimensions; dynamic axes are -1.
func (n *Network) InputShape() []int64 {
	return append([]int64(nil), n.inputInfo.Dimensions...)
}

// ModelPath returns the file the network was loaded from.
func (n *Network) ModelPath() string { return n.cfg.ModelPath }

// Run feeds one tensor through the session and copies the output.
func (n *Network) Run(ctx context.Context, in Tensor) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	if err := in.Validate(); err != nil {
		return Tensor{}, fmt.Errorf("invalid input: %w", err)
	}
	if want := len(n.inputInfo.Dimensions); want > 0 && want != len(in.Shape) {
		return Tensor{}, fmt.Errorf("input rank %d, model expects %d", len(in.Shape), want)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return Tensor{}, errors.New("network is closed")
	}

	input, err := onnxrt.NewTensor(onnxrt.NewShape(in.Shape...), in.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxrt.Value{nil}
	if err := n.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return Tensor{}, fmt.Errorf("failed to run inference: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			if err := outputs[0].Destroy(); err != nil {
				slog.Warn("failed to destroy output tensor", "error", err)
			}
		}
	}()

	out, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return Tensor{}, errors.New("unexpected output tensor type")
	}
	data := append([]float32(nil), out.GetData()...)
	return Tensor{Data: data, Shape: append([]int64(nil), out.GetShape()...)}, nil
}

// Close releases the session. It is safe to call more than once.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil
	}
	err := n.session.Destroy()
	n.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}
