package imageproc

import (
	"bytes"
	"image"

	"github.com/attachd/attachd/core/common"
	"github.com/disintegration/imaging"
	"github.com/mitchellh/mapstructure"
)

// ImageMeta is the typed view of the image-related keys in an attachment's
// open metadata map.
type ImageMeta struct {
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
	Optimized       bool   `mapstructure:"optimized"`
	Thumbnail       string `mapstructure:"thumbnail"`
	ProcessingError string `mapstructure:"processing_error"`
}

// MetaFromMap decodes attachment metadata into ImageMeta, ignoring keys the
// pipeline does not own.
func MetaFromMap(m map[string]interface{}) (ImageMeta, error) {
	var im ImageMeta
	err := mapstructure.Decode(m, &im)
	return im, err
}

// ToMap returns the metadata keys the pipeline maintains.
func (im ImageMeta) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"width":  im.Width,
		"height": im.Height,
	}
	if im.Optimized {
		m["optimized"] = true
	}
	if im.Thumbnail != "" {
		m["thumbnail"] = im.Thumbnail
	}
	if im.ProcessingError != "" {
		m["processing_error"] = im.ProcessingError
	}
	return m
}

// Options control the ingest-time pipeline.
type Options struct {
	// MaxDimension bounds width and height; larger images are downscaled
	// with an inset fit when Downscale is set.
	MaxDimension int
	// ThumbnailSize is the square box a thumbnail is cover-fitted into.
	ThumbnailSize int
	JPEGQuality   int
	Downscale     bool
	Thumbnail     bool
}

// Result of the ingest-time pipeline.
type Result struct {
	// Bytes is the (possibly re-encoded) main image; nil when untouched.
	Bytes []byte
	// Thumb is the encoded thumbnail; nil when none was requested or made.
	Thumb []byte
	Meta  ImageMeta
}

// FormatFromMime maps a declared image MIME type onto an encode format.
func FormatFromMime(mime string) (imaging.Format, error) {
	switch mime {
	case "image/jpeg", "image/jpg":
		return imaging.JPEG, nil
	case "image/png":
		return imaging.PNG, nil
	case "image/gif":
		return imaging.GIF, nil
	case "image/tiff":
		return imaging.TIFF, nil
	case "image/bmp":
		return imaging.BMP, nil
	}
	return 0, common.NewErrorf(common.ErrCodeProcessing, "unsupported image mime type %v", mime)
}

// IsImageMime reports whether the pipeline can decode the MIME type.
func IsImageMime(mime string) bool {
	_, err := FormatFromMime(mime)
	return err == nil
}

// Decode reads an image, applying the EXIF orientation so every later step
// works on an upright raster.
func Decode(src []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, common.NewErrorf(common.ErrCodeProcessing, "decoding image: %v", err)
	}
	return img, nil
}

// Encode writes the image in the given format.
func Encode(img image.Image, format imaging.Format, jpegQuality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, common.NewErrorf(common.ErrCodeProcessing, "encoding image: %v", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail cover-fits the image into a size x size box, cropping to fill.
// Shared by the ingest pipeline and the copy-on-edit path.
func Thumbnail(img image.Image, size int) image.Image {
	return imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
}

// Process runs the ingest-time pipeline: auto-orient, optional inset
// downscale, optional thumbnail. Decode/encode failures surface as
// processing errors; callers treat them as non-fatal.
func Process(src []byte, mime string, opts Options) (*Result, error) {
	format, err := FormatFromMime(mime)
	if err != nil {
		return nil, err
	}

	img, err := Decode(src)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	bounds := img.Bounds()
	res.Meta.Width = bounds.Dx()
	res.Meta.Height = bounds.Dy()

	reencode := false
	if opts.Downscale && opts.MaxDimension > 0 &&
		(bounds.Dx() > opts.MaxDimension || bounds.Dy() > opts.MaxDimension) {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		bounds = img.Bounds()
		res.Meta.Width = bounds.Dx()
		res.Meta.Height = bounds.Dy()
		res.Meta.Optimized = true
		reencode = true
	}

	if reencode {
		res.Bytes, err = Encode(img, format, opts.JPEGQuality)
		if err != nil {
			return nil, err
		}
	}

	if opts.Thumbnail && opts.ThumbnailSize > 0 {
		thumb := Thumbnail(img, opts.ThumbnailSize)
		res.Thumb, err = Encode(thumb, format, opts.JPEGQuality)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}
