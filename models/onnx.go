package models

import (
	"fmt"
	"sync"

	onnxruntime "github.com/yalue/onnxruntime_go"

	blipeval "github.com/Mineru98/blip2-eval-go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime initializes ONNX Runtime once per process. libraryPath may be
// empty to use the platform default shared library.
func InitRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if onnxruntime.IsInitialized() {
			return
		}
		if libraryPath != "" {
			onnxruntime.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = onnxruntime.InitializeEnvironment()
	})
	if runtimeErr != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", runtimeErr)
	}
	return nil
}

// ONNXModel wraps an ONNX Runtime session for inference
type ONNXModel struct {
	session     *onnxruntime.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	inputTypes  []onnxruntime.TensorElementDataType
}

// NewONNXModel creates a new ONNX model from a file. InitRuntime must have
// been called first.
func NewONNXModel(modelPath string) (*ONNXModel, error) {
	if !onnxruntime.IsInitialized() {
		return nil, fmt.Errorf("ONNX runtime is not initialized")
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		_ = options.Destroy()
	}()

	inputs, outputs, err := onnxruntime.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}

	inputNames := make([]string, len(inputs))
	inputTypes := make([]onnxruntime.TensorElementDataType, len(inputs))
	for i, input := range inputs {
		inputNames[i] = input.Name
		inputTypes[i] = input.DataType
	}

	outputNames := make([]string, len(outputs))
	for i, output := range outputs {
		outputNames[i] = output.Name
	}

	session, err := onnxruntime.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}

	return &ONNXModel{
		session:     session,
		inputNames:  inputNames,
		outputNames: outputNames,
		inputTypes:  inputTypes,
	}, nil
}

// Run runs inference and returns the float32 outputs in graph order. Output
// data is copied into Go memory before the native values are released.
func (m *ONNXModel) Run(inputs map[string]any) ([]blipeval.Tensor, error) {
	inputValues := make([]onnxruntime.Value, len(m.inputNames))
	defer func() {
		for _, value := range inputValues {
			if value != nil {
				_ = value.Destroy()
			}
		}
	}()

	for i, name := range m.inputNames {
		input, exists := inputs[name]
		if !exists {
			return nil, fmt.Errorf("missing input: %s", name)
		}

		tensor, err := createTensor(input, m.inputTypes[i])
		if err != nil {
			return nil, fmt.Errorf("failed to create tensor for %s: %w", name, err)
		}
		inputValues[i] = tensor
	}

	// nil outputs are allocated by Run
	outputValues := make([]onnxruntime.Value, len(m.outputNames))
	defer func() {
		for _, value := range outputValues {
			if value != nil {
				_ = value.Destroy()
			}
		}
	}()

	if err := m.session.Run(inputValues, outputValues); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputs := make([]blipeval.Tensor, len(m.outputNames))
	for i, name := range m.outputNames {
		tensor, ok := outputValues[i].(*onnxruntime.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unsupported output type for %s", name)
		}
		data := tensor.GetData()
		shape := tensor.GetShape()

		out := blipeval.Tensor{
			Data:  make([]float32, len(data)),
			Shape: make([]int64, len(shape)),
		}
		copy(out.Data, data)
		copy(out.Shape, shape)
		outputs[i] = out
	}

	return outputs, nil
}

// createTensor creates an ONNX tensor from input data whose element type
// must match the graph input type want
func createTensor(input any, want onnxruntime.TensorElementDataType) (onnxruntime.Value, error) {
	got, err := elementType(input)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("graph expects %s but got %s", want, got)
	}

	switch v := input.(type) {
	case blipeval.Tensor:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return onnxruntime.NewTensor(onnxruntime.NewShape(v.Shape...), v.Data)
	case []int64:
		return onnxruntime.NewTensor(onnxruntime.NewShape(int64(len(v))), v)
	case [][]int64:
		// 2D integer tensor (token ids, attention masks)
		rows := int64(len(v))
		cols := int64(0)
		if rows > 0 {
			cols = int64(len(v[0]))
		}

		flat := make([]int64, 0, rows*cols)
		for i, row := range v {
			if int64(len(row)) != cols {
				return nil, fmt.Errorf("ragged row %d: %d != %d", i, len(row), cols)
			}
			flat = append(flat, row...)
		}

		return onnxruntime.NewTensor(onnxruntime.NewShape(rows, cols), flat)
	default:
		return nil, fmt.Errorf("unsupported input type: %T", input)
	}
}

// elementType returns the ONNX element type of a supported Go input
func elementType(input any) (onnxruntime.TensorElementDataType, error) {
	switch input.(type) {
	case blipeval.Tensor:
		return onnxruntime.TensorElementDataTypeFloat, nil
	case []int64, [][]int64:
		return onnxruntime.TensorElementDataTypeInt64, nil
	default:
		return 0, fmt.Errorf("unsupported input type: %T", input)
	}
}

// Close releases model resources
func (m *ONNXModel) Close() error {
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}
