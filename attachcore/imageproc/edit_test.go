package imageproc

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachd/attachd/core/common"
)

func intp(v int) *int { return &v }

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestApplyRotateIsClockwise(t *testing.T) {
	// 2x1: red on the left, blue on the right
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	red := color.NRGBA{R: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	src.SetNRGBA(0, 0, red)
	src.SetNRGBA(1, 0, blue)

	out, err := Apply(src, []EditOp{{Rotate: intp(90)}})
	require.NoError(t, err)

	// clockwise: the left edge becomes the top edge
	assert.Equal(t, 1, out.Bounds().Dx())
	assert.Equal(t, 2, out.Bounds().Dy())
	assert.Equal(t, red, nrgbaAt(out, 0, 0))
	assert.Equal(t, blue, nrgbaAt(out, 0, 1))
}

func TestApplyRotateNormalizesDegrees(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))

	out, err := Apply(src, []EditOp{{Rotate: intp(450)}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Bounds().Dx())
	assert.Equal(t, 4, out.Bounds().Dy())

	out, err = Apply(src, []EditOp{{Rotate: intp(-90)}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Bounds().Dx())
	assert.Equal(t, 4, out.Bounds().Dy())

	same, err := Apply(src, []EditOp{{Rotate: intp(0)}})
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), same.Bounds())
}

func TestApplyCropUsesRotatedFrame(t *testing.T) {
	// 4x2 source; a 2x3 crop only fits after the 90 degree rotation has
	// turned it into 2x4
	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))

	out, err := Apply(src, []EditOp{
		{Rotate: intp(90)},
		{Crop: &CropBox{X: 0, Y: 0, W: 2, H: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Bounds().Dx())
	assert.Equal(t, 3, out.Bounds().Dy())

	// the same crop against the unrotated frame is out of bounds
	_, err = Apply(src, []EditOp{{Crop: &CropBox{X: 0, Y: 0, W: 2, H: 3}}})
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeInvalidParams))
}

func TestApplyRejectsBadOps(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))

	tests := []struct {
		name string
		ops  []EditOp
	}{
		{name: "empty op", ops: []EditOp{{}}},
		{name: "rotate not multiple of 90", ops: []EditOp{{Rotate: intp(45)}}},
		{name: "zero width crop", ops: []EditOp{{Crop: &CropBox{X: 0, Y: 0, W: 0, H: 2}}}},
		{name: "negative origin crop", ops: []EditOp{{Crop: &CropBox{X: -1, Y: 0, W: 2, H: 2}}}},
		{name: "crop exceeding bounds", ops: []EditOp{{Crop: &CropBox{X: 2, Y: 2, W: 4, H: 4}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(src, tt.ops)
			require.Error(t, err)
			assert.True(t, common.IsCode(err, common.ErrCodeInvalidParams))
		})
	}
}
