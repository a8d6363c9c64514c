package convert

import (
	"path/filepath"
	"sort"
	"strings"
)

type Category string

const (
	CategoryVideo       Category = "video"
	CategoryImage       Category = "image"
	CategoryDocument    Category = "document"
	CategoryAudio       Category = "audio"
	CategoryUnsupported Category = "unsupported"
)

var videoExtensions = []string{
	".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv", ".webm", ".m4v",
	".3gp", ".mpg", ".mpeg", ".ts", ".mts", ".m2ts", ".vob", ".ogv",
	".dv", ".rm", ".rmvb", ".asf", ".f4v", ".f4p", ".f4a", ".f4b",
}

var imageExtensions = []string{
	".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tiff", ".tif", ".webp",
	".heic", ".heif", ".avif", ".svg", ".ico",
	".raw", ".cr2", ".nef", ".arw", ".dng", ".psd", ".xcf",
	".eps", ".pcx", ".tga", ".jp2", ".jxr",
}

var documentExtensions = []string{
	".docx", ".doc", ".pptx", ".ppt", ".xlsx", ".xls",
	".pdf",
	".txt", ".rtf", ".md", ".html", ".htm", ".csv",
	".odt", ".ods", ".odp",
	".pages", ".numbers", ".key",
	".epub", ".mobi", ".azw", ".azw3", ".fb2",
	".tex",
}

var audioExtensions = []string{
	".mp3", ".aac", ".ogg", ".m4a", ".wma", ".opus",
	".wav", ".flac", ".ape", ".tak", ".tta", ".wv",
	".aiff", ".au", ".ra", ".amr", ".3ga", ".ac3", ".dts",
	".mka", ".caf", ".sd2",
}

// extensionTable is built once and only read afterwards.
var extensionTable = buildExtensionTable()

func buildExtensionTable() map[string]Category {
	table := make(map[string]Category)
	add := func(cat Category, exts []string) {
		for _, ext := range exts {
			table[ext] = cat
		}
	}
	add(CategoryVideo, videoExtensions)
	add(CategoryImage, imageExtensions)
	add(CategoryDocument, documentExtensions)
	add(CategoryAudio, audioExtensions)
	return table
}

// Classify maps the extension of path to a category. Unknown or missing
// extensions resolve to CategoryUnsupported.
func Classify(path string) Category {
	if cat, ok := extensionTable[strings.ToLower(filepath.Ext(path))]; ok {
		return cat
	}
	return CategoryUnsupported
}

// NormalizeFormat turns "MP4", "mp4" or ".Mp4" into ".mp4".
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		return ""
	}
	if !strings.HasPrefix(f, ".") {
		f = "." + f
	}
	return f
}

// IsKnownFormat reports whether format belongs to any supported category.
func IsKnownFormat(format string) bool {
	_, ok := extensionTable[NormalizeFormat(format)]
	return ok
}

// SupportedFormats returns a fresh copy of the extension lists per category.
func SupportedFormats() map[Category][]string {
	out := map[Category][]string{
		CategoryVideo:    append([]string(nil), videoExtensions...),
		CategoryImage:    append([]string(nil), imageExtensions...),
		CategoryDocument: append([]string(nil), documentExtensions...),
		CategoryAudio:    append([]string(nil), audioExtensions...),
	}
	for _, exts := range out {
		sort.Strings(exts)
	}
	return out
}
