package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrUnsupportedCategory = errors.New("unsupported file format")

// Converter performs one category of conversion. Implementations wrap an
// external tool or library and must write the result to outputPath.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string, opts Options) error
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(ctx context.Context, inputPath, outputPath string, opts Options) error

func (f ConverterFunc) Convert(ctx context.Context, inputPath, outputPath string, opts Options) error {
	return f(ctx, inputPath, outputPath, opts)
}

// VideoPolicy forces a known-good codec combination for delivery formats
// whose output must play everywhere. CRF and preset stay caller-controlled.
type VideoPolicy struct {
	Enabled      bool
	Formats      []string
	Codec        string
	AudioCodec   string
	AudioBitrate string
}

func DefaultVideoPolicy() VideoPolicy {
	return VideoPolicy{
		Enabled:      true,
		Formats:      []string{".mp4"},
		Codec:        DefaultVideoCodec,
		AudioCodec:   DefaultVideoAudioCodec,
		AudioBitrate: DefaultVideoAudioBitrate,
	}
}

// Apply returns the options to use for outputPath under the policy.
func (p VideoPolicy) Apply(outputPath string, in VideoOptions) VideoOptions {
	if !p.Enabled || !slices.Contains(p.Formats, strings.ToLower(filepath.Ext(outputPath))) {
		return in
	}
	safe := DefaultVideoOptions()
	safe.CRF = in.CRF
	if slices.Contains(VideoPresets, in.Preset) {
		safe.Preset = in.Preset
	}
	if p.Codec != "" {
		safe.Codec = p.Codec
	}
	if p.AudioCodec != "" {
		safe.AudioCodec = p.AudioCodec
	}
	if p.AudioBitrate != "" {
		safe.AudioBitrate = p.AudioBitrate
	}
	return safe
}

// Dispatcher routes a conversion to the converter registered for its category.
type Dispatcher struct {
	converters  map[Category]Converter
	videoPolicy VideoPolicy
}

func NewDispatcher(policy VideoPolicy) *Dispatcher {
	return &Dispatcher{
		converters:  make(map[Category]Converter, 4),
		videoPolicy: policy,
	}
}

// Register installs the converter for a category, replacing any previous one.
func (d *Dispatcher) Register(category Category, c Converter) *Dispatcher {
	d.converters[category] = c
	return d
}

// Dispatch runs the conversion. A nil error means the output was produced.
// Errors carry a single short line fit for display; converter panics are
// recovered and reported the same way.
func (d *Dispatcher) Dispatch(ctx context.Context, category Category, inputPath, outputPath string, opts Options) (err error) {
	converter, ok := d.converters[category]
	if category == CategoryUnsupported || !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedCategory, strings.ToLower(filepath.Ext(inputPath)))
	}

	opts = d.prepare(category, outputPath, opts)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("input", inputPath).Str("category", string(category)).Msg("converter panicked")
			err = fmt.Errorf("%s conversion crashed: %v", category, r)
		}
		if err != nil {
			err = errors.New(shortMessage(err.Error()))
		}
	}()

	log.Info().Str("category", string(category)).Str("input", inputPath).Str("output", outputPath).Msg("dispatching conversion")
	if err := converter.Convert(ctx, inputPath, outputPath, opts); err != nil {
		log.Warn().Err(err).Str("input", inputPath).Str("category", string(category)).Msg("conversion failed")
		return err
	}
	return nil
}

// prepare fills category defaults and applies the video policy.
func (d *Dispatcher) prepare(category Category, outputPath string, opts Options) Options {
	opts = opts.Clone()
	switch category {
	case CategoryVideo:
		v := DefaultVideoOptions()
		if opts.Video != nil {
			v = *opts.Video
		}
		v = d.videoPolicy.Apply(outputPath, v)
		return Options{Video: &v}
	case CategoryImage:
		if opts.Image == nil {
			img := DefaultImageOptions()
			opts.Image = &img
		}
		return Options{Image: opts.Image}
	case CategoryAudio:
		if opts.Audio == nil {
			a := DefaultAudioOptions()
			opts.Audio = &a
		}
		return Options{Audio: opts.Audio}
	default:
		return Options{}
	}
}

// Tools configures the external collaborators used by NewStandardDispatcher.
type Tools struct {
	FFmpegPath      string
	SofficePath     string
	DocumentTimeout time.Duration
	VideoPolicy     VideoPolicy
	Runner          Runner
}

// NewStandardDispatcher wires ffmpeg, imaging and LibreOffice converters.
func NewStandardDispatcher(t Tools) *Dispatcher {
	return NewDispatcher(t.VideoPolicy).
		Register(CategoryVideo, NewVideoConverter(t.FFmpegPath, t.Runner)).
		Register(CategoryAudio, NewAudioConverter(t.FFmpegPath, t.Runner)).
		Register(CategoryImage, NewImageConverter()).
		Register(CategoryDocument, NewDocumentConverter(t.SofficePath, t.DocumentTimeout, t.Runner))
}
