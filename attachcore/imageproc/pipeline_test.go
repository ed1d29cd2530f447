package imageproc

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachd/attachd/core/common"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := Encode(img, imaging.PNG, 85)
	require.NoError(t, err)
	return data
}

func TestFormatFromMime(t *testing.T) {
	tests := []struct {
		mime    string
		want    imaging.Format
		wantErr bool
	}{
		{mime: "image/jpeg", want: imaging.JPEG},
		{mime: "image/jpg", want: imaging.JPEG},
		{mime: "image/png", want: imaging.PNG},
		{mime: "image/gif", want: imaging.GIF},
		{mime: "image/tiff", want: imaging.TIFF},
		{mime: "image/bmp", want: imaging.BMP},
		{mime: "image/webp", wantErr: true},
		{mime: "application/pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			format, err := FormatFromMime(tt.mime)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, common.IsCode(err, common.ErrCodeProcessing))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, format)
		})
	}
}

func TestDecodeCorruptInput(t *testing.T) {
	_, err := Decode([]byte("not an image at all"))
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.ErrCodeProcessing))
}

func TestProcessDownscalesOversizedImage(t *testing.T) {
	src := encodePNG(t, solidImage(100, 50, color.NRGBA{R: 255, A: 255}))

	res, err := Process(src, "image/png", Options{
		MaxDimension: 40,
		JPEGQuality:  85,
		Downscale:    true,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Bytes, "downscale must re-encode")
	assert.True(t, res.Meta.Optimized)
	assert.Equal(t, 40, res.Meta.Width)
	assert.Equal(t, 20, res.Meta.Height, "aspect ratio is preserved")

	img, err := Decode(res.Bytes)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestProcessLeavesSmallImageAlone(t *testing.T) {
	src := encodePNG(t, solidImage(30, 20, color.NRGBA{G: 255, A: 255}))

	res, err := Process(src, "image/png", Options{
		MaxDimension: 40,
		JPEGQuality:  85,
		Downscale:    true,
	})
	require.NoError(t, err)

	assert.Nil(t, res.Bytes, "an image under the bound is not re-encoded")
	assert.False(t, res.Meta.Optimized)
	assert.Equal(t, 30, res.Meta.Width)
	assert.Equal(t, 20, res.Meta.Height)
}

func TestProcessThumbnailIsSquare(t *testing.T) {
	src := encodePNG(t, solidImage(64, 32, color.NRGBA{B: 255, A: 255}))

	res, err := Process(src, "image/png", Options{
		ThumbnailSize: 16,
		JPEGQuality:   85,
		Thumbnail:     true,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Thumb)
	thumb, err := Decode(res.Thumb)
	require.NoError(t, err)
	assert.Equal(t, 16, thumb.Bounds().Dx())
	assert.Equal(t, 16, thumb.Bounds().Dy(), "thumbnail is cover-fitted to a square")
}

func TestImageMetaMapRoundTrip(t *testing.T) {
	m := map[string]interface{}{
		"width":     640,
		"height":    480,
		"optimized": true,
		"thumbnail": "thumb_a.png",
		"unrelated": "ignored",
	}

	im, err := MetaFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, 640, im.Width)
	assert.Equal(t, 480, im.Height)
	assert.True(t, im.Optimized)
	assert.Equal(t, "thumb_a.png", im.Thumbnail)

	out := im.ToMap()
	assert.Equal(t, 640, out["width"])
	assert.Equal(t, true, out["optimized"])
	_, ok := out["processing_error"]
	assert.False(t, ok, "empty keys are omitted")
}
