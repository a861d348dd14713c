package inference

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSharedLibPathFromEnv(t *testing.T) {
	t.Setenv(SharedLibraryPathEnv, "/opt/onnxruntime/lib/libonnxruntime.so")
	assert.Equal(t, "/opt/onnxruntime/lib/libonnxruntime.so", GetSharedLibPath())
}

func TestGetSharedLibPathDefault(t *testing.T) {
	t.Setenv(SharedLibraryPathEnv, "")
	assert.NotEmpty(t, GetSharedLibPath())
}

func TestONNXOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    ONNXOptions
		wantErr bool
	}{
		{name: "defaults grid", opts: ONNXOptions{ModelPath: "m.onnx", ImageSize: 360}},
		{name: "no model", opts: ONNXOptions{ImageSize: 360}, wantErr: true},
		{name: "no size", opts: ONNXOptions{ModelPath: "m.onnx"}, wantErr: true},
		{name: "negative grid", opts: ONNXOptions{ModelPath: "m.onnx", ImageSize: 360, Grid: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 9, tt.opts.Grid)
		})
	}
}

func TestNewONNXPredictorMissingLibrary(t *testing.T) {
	t.Setenv(SharedLibraryPathEnv, filepath.Join(t.TempDir(), "libonnxruntime.so"))

	_, err := NewONNXPredictor(ONNXOptions{ModelPath: "yolou.onnx", ImageSize: 360}, golog.NewTestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLibraryNotFound))
}

func TestClosedPredictor(t *testing.T) {
	p := &ONNXPredictor{opts: ONNXOptions{ModelPath: "m.onnx", ImageSize: 9, Grid: 9}, logger: golog.NewTestLogger(t)}
	require.NoError(t, p.Close())

	_, err := p.Predict(context.Background(), image.NewRGBA(image.Rect(0, 0, 9, 9)))
	require.Error(t, err)
}
