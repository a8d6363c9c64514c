package convert

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
)

// AudioConverter re-encodes audio with ffmpeg.
type AudioConverter struct {
	FFmpegPath string
	Runner     Runner
}

func NewAudioConverter(ffmpegPath string, runner Runner) *AudioConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &AudioConverter{FFmpegPath: ffmpegPath, Runner: runner}
}

func (c *AudioConverter) Convert(ctx context.Context, inputPath, outputPath string, opts Options) error {
	a := DefaultAudioOptions()
	if opts.Audio != nil {
		a = *opts.Audio
	}
	out, err := c.Runner.Run(ctx, c.FFmpegPath, audioArgs(inputPath, outputPath, a)...)
	if err != nil {
		return toolError(ctx, "ffmpeg", out, err)
	}
	return nil
}

var audioCodecs = map[string]string{
	".mp3":  "libmp3lame",
	".aac":  "aac",
	".m4a":  "aac",
	".ogg":  "libvorbis",
	".opus": "libopus",
	".flac": "flac",
	".wav":  "pcm_s16le",
	".aiff": "pcm_s16be",
	".ac3":  "ac3",
	".wma":  "wmav2",
}

// lossless codecs ignore a bitrate target.
var losslessCodecs = map[string]bool{"flac": true, "pcm_s16le": true, "pcm_s16be": true}

func audioArgs(inputPath, outputPath string, a AudioOptions) []string {
	args := []string{"-y", "-i", inputPath, "-vn"}
	codec, known := audioCodecs[strings.ToLower(filepath.Ext(outputPath))]
	if known {
		args = append(args, "-codec:a", codec)
	}
	if !losslessCodecs[codec] && a.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(a.Bitrate)+"k")
	}
	if a.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(a.SampleRate))
	}
	if a.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(a.Channels))
	}
	return append(args, outputPath)
}
