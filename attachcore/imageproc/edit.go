package imageproc

import (
	"image"

	"github.com/attachd/attachd/core/common"
	"github.com/disintegration/imaging"
)

// EditOp is one step of an edit sequence: exactly one of Rotate or Crop.
type EditOp struct {
	// Rotate in degrees clockwise; must be a multiple of 90.
	Rotate *int `json:"rotate,omitempty"`
	// Crop in the coordinate frame of the image as it stands when the op
	// runs, i.e. after any preceding rotation.
	Crop *CropBox `json:"crop,omitempty"`
}

type CropBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Apply runs the operations in order against the current raster.
func Apply(img image.Image, ops []EditOp) (image.Image, error) {
	for i, op := range ops {
		switch {
		case op.Rotate != nil:
			rotated, err := rotate(img, *op.Rotate)
			if err != nil {
				return nil, err
			}
			img = rotated
		case op.Crop != nil:
			cropped, err := crop(img, *op.Crop)
			if err != nil {
				return nil, err
			}
			img = cropped
		default:
			return nil, common.NewErrorf(common.ErrCodeInvalidParams,
				"edit operation %d has neither rotate nor crop", i)
		}
	}
	return img, nil
}

func rotate(img image.Image, degrees int) (image.Image, error) {
	deg := ((degrees % 360) + 360) % 360
	switch deg {
	case 0:
		return img, nil
	case 90:
		// imaging rotates counter-clockwise
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	}
	return nil, common.NewErrorf(common.ErrCodeInvalidParams,
		"rotation must be a multiple of 90 degrees, got %d", degrees)
}

func crop(img image.Image, box CropBox) (image.Image, error) {
	if box.W <= 0 || box.H <= 0 {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams,
			"crop box must have positive dimensions")
	}
	rect := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H)
	if !rect.In(img.Bounds()) {
		return nil, common.NewErrorf(common.ErrCodeInvalidParams,
			"crop box %v exceeds image bounds %v", rect, img.Bounds())
	}
	return imaging.Crop(img, rect), nil
}
