package images

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Channels is the number of colour channels fed to the network.
const Channels = 3

// Load decodes the image file at path, applying any EXIF orientation.
//
// Arguments:
//   - path: Path to a JPEG, PNG, BMP, GIF or TIFF file.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the file cannot be opened or decoded.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "image decoding failed for %q", path)
	}
	return img, nil
}

// ToTensor resizes img to width x height and writes it into dst in HWC order,
// each channel scaled from [0, 255] to [-1, 1].
//
// Arguments:
//   - img: Source image.
//   - width: Target width.
//   - height: Target height.
//   - dst: Destination buffer holding at least width*height*3 floats.
//
// Returns:
//   - error: An error if img is nil or dst is too small.
func ToTensor(img image.Image, width, height int, dst []float32) error {
	if img == nil {
		return errors.New("image is nil")
	}
	need := width * height * Channels
	if len(dst) < need {
		return errors.Errorf("destination holds %d floats, needs %d", len(dst), need)
	}

	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
		b = img.Bounds()
	}

	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dst[i] = normalize(r)
			dst[i+1] = normalize(g)
			dst[i+2] = normalize(bl)
			i += Channels
		}
	}
	return nil
}

// FlipHorizontal mirrors img left to right.
func FlipHorizontal(img image.Image) image.Image {
	return imaging.FlipH(img)
}

func normalize(c uint32) float32 {
	return float32(c>>8)/255.0*2.0 - 1.0
}
