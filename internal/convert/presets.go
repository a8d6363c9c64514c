package convert

// Preset is a named, read-only set of options for one category.
type Preset struct {
	Description string  `json:"description"`
	Options     Options `json:"options"`
}

func videoPreset(desc, codec string, crf int, preset, audioBitrate string) Preset {
	v := DefaultVideoOptions()
	v.Codec = codec
	v.CRF = crf
	v.Preset = preset
	v.AudioBitrate = audioBitrate
	return Preset{Description: desc, Options: Options{Video: &v}}
}

func imagePreset(desc string, quality int) Preset {
	img := DefaultImageOptions()
	img.Quality = quality
	return Preset{Description: desc, Options: Options{Image: &img}}
}

func audioPreset(desc string, bitrate int) Preset {
	a := DefaultAudioOptions()
	a.Bitrate = bitrate
	return Preset{Description: desc, Options: Options{Audio: &a}}
}

var presetTable = map[Category]map[string]Preset{
	CategoryVideo: {
		"ultra_high":    videoPreset("Ultra High Quality - Largest file size", "libx264", 15, "veryslow", "320k"),
		"high":          videoPreset("High Quality - Visually lossless", "libx264", 18, "slow", "192k"),
		"medium":        videoPreset("Medium Quality - Good balance", "libx264", 23, "medium", "128k"),
		"web_optimized": videoPreset("Web Optimized - Fast loading", "libx264", 25, "fast", "128k"),
		"h265_high":     videoPreset("H.265 High Quality - Better compression", "libx265", 20, "slow", "192k"),
	},
	CategoryImage: {
		"maximum": imagePreset("Maximum Quality", 100),
		"high":    imagePreset("High Quality", 95),
		"medium":  imagePreset("Medium Quality", 85),
		"web":     imagePreset("Web Optimized", 75),
	},
	CategoryAudio: {
		"lossless": audioPreset("Lossless Quality", 1000),
		"high":     audioPreset("High Quality", 320),
		"medium":   audioPreset("Medium Quality", 192),
		"low":      audioPreset("Low Quality", 128),
	},
}

// Presets returns a copy of every preset defined for category.
func Presets(category Category) (map[string]Preset, bool) {
	byName, ok := presetTable[category]
	if !ok {
		return nil, false
	}
	out := make(map[string]Preset, len(byName))
	for name, p := range byName {
		out[name] = Preset{Description: p.Description, Options: p.Options.Clone()}
	}
	return out, true
}

// LookupPreset returns a copy of a single preset.
func LookupPreset(category Category, name string) (Preset, bool) {
	p, ok := presetTable[category][name]
	if !ok {
		return Preset{}, false
	}
	return Preset{Description: p.Description, Options: p.Options.Clone()}, true
}
