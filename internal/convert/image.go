package convert

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// ImageConverter converts still images in-process with imaging.
type ImageConverter struct{}

func NewImageConverter() *ImageConverter { return &ImageConverter{} }

func (c *ImageConverter) Convert(ctx context.Context, inputPath, outputPath string, opts Options) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("image conversion cancelled: %w", err)
	}
	o := DefaultImageOptions()
	if opts.Image != nil {
		o = *opts.Image
	}

	format, err := imaging.FormatFromFilename(outputPath)
	if err != nil {
		return fmt.Errorf("unsupported output image format: %w", err)
	}

	src, err := imaging.Open(inputPath, imaging.AutoOrientation(o.AutoOrient))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	var img image.Image = src
	if o.Resize != nil {
		log.Debug().Int("width", o.Resize.Width).Int("height", o.Resize.Height).Msg("resizing image")
		img = imaging.Resize(img, o.Resize.Width, o.Resize.Height, imaging.Lanczos)
	}
	if o.Rotate%360 != 0 {
		img = imaging.Rotate(img, float64(o.Rotate), color.White)
	}
	if format == imaging.JPEG {
		// JPEG has no alpha channel: composite onto white first.
		b := img.Bounds()
		img = imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), img, image.Pt(0, 0), 1.0)
	}

	if err := imaging.Save(img, outputPath,
		imaging.JPEGQuality(o.Quality),
		imaging.PNGCompressionLevel(pngLevel(o.CompressLevel)),
	); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// pngLevel maps a zlib-style 0-9 level onto the encoder presets.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
