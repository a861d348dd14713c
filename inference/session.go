package inference

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ExecutionProvider names the hardware backend of a session.
type ExecutionProvider string

const (
	// ProviderCPU uses the default CPU kernels.
	ProviderCPU ExecutionProvider = "cpu"
	// ProviderCoreML uses Apple's CoreML.
	ProviderCoreML ExecutionProvider = "coreml"
	// ProviderOpenVINO uses Intel's OpenVINO on the CPU.
	ProviderOpenVINO ExecutionProvider = "openvino"
)

// SessionOptions describes one onnxruntime session with a single float32
// input and output.
type SessionOptions struct {
	ModelPath   string
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64

	Provider ExecutionProvider
	// IntraOpThreads and InterOpThreads of 0 use the runtime defaults.
	IntraOpThreads int
	InterOpThreads int
}

// Session represents a model session from the onnxruntime.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

// NewSession initializes the runtime if needed and creates a session whose
// tensors are preallocated for the given shapes.
//
// Arguments:
//   - opts: The model path, tensor names and shapes, and execution settings.
//
// Returns:
//   - *Session: The session. The caller must Close it.
//   - error: An error if the library or the model cannot be loaded.
func NewSession(opts SessionOptions) (*Session, error) {
	if err := initEnvironment(); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := sessionOptions(opts)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "error creating ORT session for %s", opts.ModelPath)
	}

	return &Session{Session: session, Input: input, Output: output}, nil
}

func sessionOptions(opts SessionOptions) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	fail := func(err error) (*ort.SessionOptions, error) {
		options.Destroy()
		return nil, err
	}

	if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
		return fail(errors.Wrap(err, "set intra-op threads"))
	}
	if err := options.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
		return fail(errors.Wrap(err, "set inter-op threads"))
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return fail(errors.Wrap(err, "set graph optimization level"))
	}

	switch opts.Provider {
	case "", ProviderCPU:
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fail(errors.Wrap(err, "error enabling CoreML"))
		}
	case ProviderOpenVINO:
		threads := opts.IntraOpThreads
		if threads <= 0 {
			threads = 4
		}
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type":    "CPU",
			"precision":      "FP32",
			"num_of_threads": fmt.Sprintf("%d", threads),
		}); err != nil {
			return fail(errors.Wrap(err, "error enabling OpenVINO"))
		}
	default:
		return fail(errors.Errorf("unsupported execution provider: %s", opts.Provider))
	}
	return options, nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() {
	if s.Input != nil {
		s.Input.Destroy()
		s.Input = nil
	}
	if s.Output != nil {
		s.Output.Destroy()
		s.Output = nil
	}
	if s.Session != nil {
		s.Session.Destroy()
		s.Session = nil
	}
}
