package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalidOptions = errors.New("invalid conversion options")

const (
	DefaultVideoCodec        = "libx264"
	DefaultVideoCRF          = 23
	DefaultVideoPreset       = "medium"
	DefaultVideoAudioCodec   = "aac"
	DefaultVideoAudioBitrate = "128k"

	DefaultImageQuality       = 85
	DefaultImageCompressLevel = 6

	DefaultAudioBitrate = 128

	maxCRF          = 51
	maxAudioBitrate = 1000
)

// VideoPresets lists the encoder speed presets accepted by ffmpeg's x264/x265.
var VideoPresets = []string{
	"ultrafast", "superfast", "veryfast",
	"faster", "fast", "medium",
	"slow", "slower", "veryslow",
}

var (
	audioSampleRates = []int{8000, 11025, 16000, 22050, 44100, 48000, 96000, 192000}
	audioChannels    = []int{1, 2, 6, 8}
)

// Size is a target resolution in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ParseSize parses "WxH" (case-insensitive separator). Both sides must be positive.
func ParseSize(raw string) (Size, bool) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return Size{}, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return Size{}, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return Size{}, false
	}
	return Size{Width: width, Height: height}, true
}

type VideoOptions struct {
	Codec        string `json:"codec"`
	CRF          int    `json:"crf"`
	Preset       string `json:"preset"`
	Resolution   *Size  `json:"resolution,omitempty"`
	FPS          int    `json:"fps,omitempty"`
	Bitrate      string `json:"bitrate,omitempty"`
	MaxBitrate   string `json:"max_bitrate,omitempty"`
	AudioCodec   string `json:"audio_codec"`
	AudioBitrate string `json:"audio_bitrate"`
	Deinterlace  bool   `json:"deinterlace,omitempty"`
	Denoise      bool   `json:"denoise,omitempty"`
	Sharpen      bool   `json:"sharpen,omitempty"`
}

func DefaultVideoOptions() VideoOptions {
	return VideoOptions{
		Codec:        DefaultVideoCodec,
		CRF:          DefaultVideoCRF,
		Preset:       DefaultVideoPreset,
		AudioCodec:   DefaultVideoAudioCodec,
		AudioBitrate: DefaultVideoAudioBitrate,
	}
}

func (v VideoOptions) Validate() error {
	if v.CRF < 0 || v.CRF > maxCRF {
		return fmt.Errorf("%w: crf %d out of range 0-%d", ErrInvalidOptions, v.CRF, maxCRF)
	}
	if !slices.Contains(VideoPresets, v.Preset) {
		return fmt.Errorf("%w: unknown preset %q", ErrInvalidOptions, v.Preset)
	}
	if v.FPS < 0 {
		return fmt.Errorf("%w: fps must be positive", ErrInvalidOptions)
	}
	if strings.TrimSpace(v.Codec) == "" || strings.TrimSpace(v.AudioCodec) == "" {
		return fmt.Errorf("%w: codec must not be empty", ErrInvalidOptions)
	}
	return nil
}

type ImageOptions struct {
	Quality       int   `json:"quality"`
	Resize        *Size `json:"resize,omitempty"`
	Rotate        int   `json:"rotate,omitempty"`
	AutoOrient    bool  `json:"auto_orient"`
	CompressLevel int   `json:"compress_level"`
}

func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		Quality:       DefaultImageQuality,
		AutoOrient:    true,
		CompressLevel: DefaultImageCompressLevel,
	}
}

func (o ImageOptions) Validate() error {
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("%w: quality %d out of range 1-100", ErrInvalidOptions, o.Quality)
	}
	if o.CompressLevel < 0 || o.CompressLevel > 9 {
		return fmt.Errorf("%w: compress_level %d out of range 0-9", ErrInvalidOptions, o.CompressLevel)
	}
	return nil
}

type AudioOptions struct {
	Bitrate    int `json:"bitrate"`
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

func DefaultAudioOptions() AudioOptions {
	return AudioOptions{Bitrate: DefaultAudioBitrate}
}

func (a AudioOptions) Validate() error {
	if a.Bitrate < 1 || a.Bitrate > maxAudioBitrate {
		return fmt.Errorf("%w: bitrate %d out of range 1-%d", ErrInvalidOptions, a.Bitrate, maxAudioBitrate)
	}
	if a.SampleRate != 0 && !slices.Contains(audioSampleRates, a.SampleRate) {
		return fmt.Errorf("%w: unsupported sample_rate %d", ErrInvalidOptions, a.SampleRate)
	}
	if a.Channels != 0 && !slices.Contains(audioChannels, a.Channels) {
		return fmt.Errorf("%w: unsupported channels %d", ErrInvalidOptions, a.Channels)
	}
	return nil
}

// Options carries the configuration for exactly one category. Document
// conversions have no options, so all variants are nil for them.
type Options struct {
	Video *VideoOptions `json:"video,omitempty"`
	Image *ImageOptions `json:"image,omitempty"`
	Audio *AudioOptions `json:"audio,omitempty"`
}

// Clone returns a deep copy so that snapshots never share pointers.
func (o Options) Clone() Options {
	var out Options
	if o.Video != nil {
		v := *o.Video
		if v.Resolution != nil {
			r := *v.Resolution
			v.Resolution = &r
		}
		out.Video = &v
	}
	if o.Image != nil {
		img := *o.Image
		if img.Resize != nil {
			r := *img.Resize
			img.Resize = &r
		}
		out.Image = &img
	}
	if o.Audio != nil {
		a := *o.Audio
		out.Audio = &a
	}
	return out
}

// RequestOptions is the wire form clients send. Each category section is
// decoded lazily on top of the category defaults.
type RequestOptions struct {
	Video json.RawMessage `json:"video_options,omitempty"`
	Image json.RawMessage `json:"image_options,omitempty"`
	Audio json.RawMessage `json:"audio_options,omitempty"`
}

// ParseRequestOptions decodes the options JSON. Empty input yields empty options.
func ParseRequestOptions(raw []byte) (RequestOptions, error) {
	var req RequestOptions
	if len(strings.TrimSpace(string(raw))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return RequestOptions{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return req, nil
}

type videoWire struct {
	VideoOptions
	Resolution json.RawMessage `json:"resolution,omitempty"`
}

type imageWire struct {
	ImageOptions
	Resize json.RawMessage `json:"resize,omitempty"`
}

// For builds the validated option variant for category.
func (r RequestOptions) For(category Category) (Options, error) {
	switch category {
	case CategoryVideo:
		wire := videoWire{VideoOptions: DefaultVideoOptions()}
		if err := decodeSection(r.Video, &wire); err != nil {
			return Options{}, err
		}
		v := wire.VideoOptions
		v.Resolution = parseSizeValue(wire.Resolution)
		if err := v.Validate(); err != nil {
			return Options{}, err
		}
		return Options{Video: &v}, nil
	case CategoryImage:
		wire := imageWire{ImageOptions: DefaultImageOptions()}
		if err := decodeSection(r.Image, &wire); err != nil {
			return Options{}, err
		}
		img := wire.ImageOptions
		img.Resize = parseSizeValue(wire.Resize)
		if err := img.Validate(); err != nil {
			return Options{}, err
		}
		return Options{Image: &img}, nil
	case CategoryAudio:
		a := DefaultAudioOptions()
		if err := decodeSection(r.Audio, &a); err != nil {
			return Options{}, err
		}
		if err := a.Validate(); err != nil {
			return Options{}, err
		}
		return Options{Audio: &a}, nil
	default:
		return Options{}, nil
	}
}

func decodeSection(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// parseSizeValue accepts "WxH", [W, H] or {"width":W,"height":H}.
// Anything malformed is dropped rather than failing the request.
func parseSizeValue(raw json.RawMessage) *Size {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if s, ok := ParseSize(asString); ok {
			return &s
		}
		return nil
	}
	var asPair []int
	if err := json.Unmarshal(raw, &asPair); err == nil {
		if len(asPair) == 2 && asPair[0] > 0 && asPair[1] > 0 {
			return &Size{Width: asPair[0], Height: asPair[1]}
		}
		return nil
	}
	var asObject Size
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Width > 0 && asObject.Height > 0 {
		return &asObject
	}
	return nil
}
