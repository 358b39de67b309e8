package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"rasp/internal/features"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXModel runs a regressor exported to ONNX in-process. The model must take a
// single float tensor of shape [batch, 19] and produce one value per row.
type ONNXModel struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	outShape   ort.Shape
	metrics    MetricsInterface
}

// NewONNXModel loads the model at modelPath. An empty libPath looks for
// libonnxruntime.so next to the model.
func NewONNXModel(modelPath, libPath string, metrics MetricsInterface) (*ONNXModel, error) {
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("%w: onnx: failed to initialize runtime: %v", ErrModelUnavailable, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: onnx: failed to read model info: %v", ErrModelUnavailable, err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 input tensor, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}

	in := inputs[0].Dimensions
	if len(in) != 2 || (in[1] > 0 && in[1] != features.NumFeatures) {
		return nil, fmt.Errorf("onnx: expected input shape [N, %d], got %v", features.NumFeatures, in)
	}

	// Dynamic axes are reported as -1; a single row is always run.
	outShape := make(ort.Shape, len(outputs[0].Dimensions))
	for i, d := range outputs[0].Dimensions {
		if d <= 0 {
			d = 1
		}
		outShape[i] = d
	}
	if outShape.FlattenedSize() != 1 {
		return nil, fmt.Errorf("onnx: expected a single output value per row, got shape %v", outputs[0].Dimensions)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	reportModelAge(modelPath, metrics)

	return &ONNXModel{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		outShape:   outShape,
		metrics:    metrics,
	}, nil
}

// Name implements Model.
func (m *ONNXModel) Name() string { return BackendONNX }

// Predict implements Model.
func (m *ONNXModel) Predict(ctx context.Context, v features.Vector) (float64, error) {
	start := time.Now()
	pred, err := m.infer(ctx, v)
	observe(m.metrics, start, err)
	return pred, err
}

func (m *ONNXModel) infer(ctx context.Context, v features.Vector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	in, err := ort.NewTensor(ort.NewShape(1, features.NumFeatures), v.Float32())
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](m.outShape)
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return 0, fmt.Errorf("onnx: inference failed: %w", err)
	}

	return float64(out.GetData()[0]), nil
}

// Close implements Model.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}
