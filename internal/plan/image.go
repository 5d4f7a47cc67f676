package plan

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode reads an image in any registered format, honouring EXIF
// orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("plan: decode image: %w", err)
	}
	return img, nil
}

// Fit resizes img to the rectangle. Nearest-neighbour sampling keeps the
// palette of pixel art intact. With AutoFit the image keeps its size.
func Fit(img image.Image, rect Rect) *image.NRGBA {
	if rect.AutoFit {
		return imaging.Clone(img)
	}
	w, h := rect.Size()
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.NearestNeighbor)
}

// Build validates rect, fits img into it and plans the result.
func Build(img image.Image, rect Rect) (*Plan, error) {
	if err := rect.Validate(); err != nil {
		return nil, err
	}
	fitted := Fit(img, rect)
	if fitted.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidRect)
	}
	return FromNRGBA(fitted, rect.Start), nil
}

// SavePreview writes the fitted image that would be painted.
func (p *Plan) SavePreview(path string) error {
	if p.Source == nil {
		return fmt.Errorf("plan: no source image")
	}
	return imaging.Save(p.Source, path)
}
