// Package imaging provides bounding-box math and face cropping for the
// recognition pipeline.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// embedInputSize is the square edge the embedding sidecar expects.
const embedInputSize = 112

// Box is a face bounding box in pixel coordinates, [x, y, w, h].
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Padding describes the size-proportional crop padding heuristic: close
// faces get a small padding fraction, far faces a larger one to give the
// embedder more context around a low-resolution crop.
type Padding struct {
	NearFraction float64 // fraction applied at or above NearWidthPx
	FarFraction  float64 // fraction applied at or below FarWidthPx
	NearWidthPx  float64
	FarWidthPx   float64
}

// Fraction returns the padding fraction for a face of the given width.
// The result decreases monotonically as the face width grows.
func (p Padding) Fraction(faceWidth float64) float64 {
	if faceWidth <= p.FarWidthPx {
		return p.FarFraction
	}
	if faceWidth >= p.NearWidthPx {
		return p.NearFraction
	}
	// Linear interpolation between the far and near anchors.
	t := (faceWidth - p.FarWidthPx) / (p.NearWidthPx - p.FarWidthPx)
	return p.FarFraction + t*(p.NearFraction-p.FarFraction)
}

// CropFace decodes img, crops box expanded by padFraction on every side,
// scales the crop to the embedder input size, and re-encodes it as JPEG.
// The padded region is clamped to the image bounds.
func CropFace(img []byte, box Box, padFraction float64) ([]byte, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := decoded.Bounds()
	padX := box.W * padFraction
	padY := box.H * padFraction

	x0 := int(box.X - padX)
	y0 := int(box.Y - padY)
	x1 := int(box.X + box.W + padX)
	y1 := int(box.Y + box.H + padY)

	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x1 > bounds.Max.X {
		x1 = bounds.Max.X
	}
	if y1 > bounds.Max.Y {
		y1 = bounds.Max.Y
	}
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("face box [%g %g %g %g] is outside the frame", box.X, box.Y, box.W, box.H)
	}

	crop := image.Rect(x0, y0, x1, y1)
	scaled := image.NewRGBA(image.Rect(0, 0, embedInputSize, embedInputSize))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), decoded, crop, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode face crop: %w", err)
	}
	return buf.Bytes(), nil
}
