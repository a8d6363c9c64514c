package convert

import (
	"context"
	"strconv"
	"strings"
)

// VideoConverter transcodes video with ffmpeg.
type VideoConverter struct {
	FFmpegPath string
	Runner     Runner
}

func NewVideoConverter(ffmpegPath string, runner Runner) *VideoConverter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &VideoConverter{FFmpegPath: ffmpegPath, Runner: runner}
}

func (c *VideoConverter) Convert(ctx context.Context, inputPath, outputPath string, opts Options) error {
	v := DefaultVideoOptions()
	if opts.Video != nil {
		v = *opts.Video
	}
	out, err := c.Runner.Run(ctx, c.FFmpegPath, videoArgs(inputPath, outputPath, v)...)
	if err != nil {
		return toolError(ctx, "ffmpeg", out, err)
	}
	return nil
}

func videoArgs(inputPath, outputPath string, v VideoOptions) []string {
	args := []string{
		"-i", inputPath,
		"-c:v", v.Codec,
		"-crf", strconv.Itoa(v.CRF),
		"-preset", v.Preset,
	}
	if v.Bitrate != "" {
		args = append(args, "-b:v", v.Bitrate)
	}
	if v.MaxBitrate != "" {
		args = append(args, "-maxrate", v.MaxBitrate, "-bufsize", v.MaxBitrate)
	}
	args = append(args, "-c:a", v.AudioCodec, "-b:a", v.AudioBitrate)

	var filters []string
	if v.Resolution != nil {
		filters = append(filters, "scale="+strconv.Itoa(v.Resolution.Width)+":"+strconv.Itoa(v.Resolution.Height))
	}
	if v.Deinterlace {
		filters = append(filters, "yadif")
	}
	if v.Denoise {
		filters = append(filters, "hqdn3d")
	}
	if v.Sharpen {
		filters = append(filters, "unsharp")
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	if v.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(v.FPS))
	}
	return append(args, "-y", outputPath)
}
