package images

import (
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// File is an image file found in a directory.
type File struct {
	// Path is the path to the image file.
	Path string
	// Frame is the number in a "frame-<n>" file name, or -1.
	Frame int
}

// ListDirectory returns the image files directly inside dir. Numbered frames
// come first in frame order, then the remaining files by name.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []File: The image files.
//   - error: Error if the directory cannot be read.
func ListDirectory(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %q", dir)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
		default:
			continue
		}

		frame := -1
		if digits, ok := strings.CutPrefix(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())), "frame-"); ok {
			if n, err := strconv.Atoi(digits); err == nil {
				frame = n
			}
		}
		files = append(files, File{Path: filepath.Join(dir, entry.Name()), Frame: frame})
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if (a.Frame >= 0) != (b.Frame >= 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})
	return files, nil
}

// LoadDirectory decodes every image ListDirectory finds in dir.
func LoadDirectory(dir string) ([]image.Image, error) {
	files, err := ListDirectory(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images found in %q", dir)
	}

	imgs := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := Load(f.Path)
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}
