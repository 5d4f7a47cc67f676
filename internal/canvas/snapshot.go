package canvas

import (
	"image"

	"github.com/disintegration/imaging"
)

// Snapshot is a raw copy of the canvas: Width*Height*3 bytes, row-major RGB.
type Snapshot struct {
	Width  int
	Height int
	Pix    []byte
}

// Image converts the snapshot to an opaque NRGBA image.
func (s *Snapshot) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	for i, j := 0, 0; i+2 < len(s.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = s.Pix[i]
		img.Pix[j+1] = s.Pix[i+1]
		img.Pix[j+2] = s.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Save writes the snapshot to path, optionally scaled to width x height
// with nearest-neighbour sampling. The format follows the file extension.
func (s *Snapshot) Save(path string, width, height int) error {
	var img image.Image = s.Image()
	if width > 0 || height > 0 {
		img = imaging.Resize(img, width, height, imaging.NearestNeighbor)
	}
	return imaging.Save(img, path)
}
