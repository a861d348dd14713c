// Package common - Types shared by the solver, the predictors and the CLI.
package common

import (
	"fmt"
	"image"
)

// BoundingBox represents a bounding box with its label, confidence, and coordinates.
type BoundingBox struct {
	Label          string
	Confidence     float32
	X1, Y1, X2, Y2 float32
}

// String formats the bounding box information for display.
//
// Example:
//
//	box := BoundingBox{Label: "plane", Confidence: 0.95, X1: 100, Y1: 100, X2: 200, Y2: 300}
//	box.String() // Object plane (confidence 0.950000): (100.00, 100.00), (200.00, 300.00)
func (b *BoundingBox) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%.2f, %.2f), (%.2f, %.2f)",
		b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// ToRect converts the bounding box to an image.Rectangle for drawing. Fractional
// pixels are truncated.
func (b *BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Clip restricts the box to the given bounds.
func (b *BoundingBox) Clip(bounds image.Rectangle) image.Rectangle {
	return b.ToRect().Intersect(bounds)
}
