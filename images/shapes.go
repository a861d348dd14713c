// Package images - Image loading and geometry utilities.
package images

// Rect is a box in pixel coordinates of the network input.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of r.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns the vertical extent of r.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Area returns the area of r, or 0 for an empty rectangle.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CalculateIoU returns the Intersection over Union of two rectangles:
//
//	IoU = Area of Intersection / Area of Union
//
// 1.0 means identical boxes and 0.0 means no overlap. Union is computed by
// inclusion-exclusion, Area(A) + Area(B) - Area(A∩B).
//
// Example:
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	CalculateIoU(a, b) // 25 / 175 = 0.142857
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	// No overlap.
	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
