package inference

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// SharedLibraryPathEnv overrides the onnxruntime shared library location.
const SharedLibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// ErrLibraryNotFound is returned when the onnxruntime shared library is missing.
var ErrLibraryNotFound = errors.New("onnxruntime library not found")

var envMu sync.Mutex

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path from SharedLibraryPathEnv if set, else the platform default.
func GetSharedLibPath() string {
	if path := os.Getenv(SharedLibraryPathEnv); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// initEnvironment loads the shared library once per process.
func initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := GetSharedLibPath()
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(ErrLibraryNotFound, "%s (set %s): %v", libPath, SharedLibraryPathEnv, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}
