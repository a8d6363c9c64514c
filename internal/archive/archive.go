package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoEntries = errors.New("no entries provided")

const archiveDirPerm os.FileMode = 0o750

// Entry is one local file to bundle under Name.
type Entry struct {
	Name string
	Path string
}

// Result describes outcome of writing a single entry into the zip.
// Filename is the name actually used inside the archive.
type Result struct {
	Filename string
	Err      string
}

// BuildArchive writes the provided local files into a zip at destZipPath.
// It always returns a results slice of the same length as entries. Entries
// that cannot be read get Result.Err set and are omitted from the archive.
// Repeated names become "name(1).ext", "name(2).ext" and so on.
func BuildArchive(ctx context.Context, destZipPath string, entries []Entry) ([]Result, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	zipFile, zipWriter, err := prepareZip(destZipPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zipWriter.Close() }()
	defer func() { _ = zipFile.Close() }()

	names := newNameSet()
	results := make([]Result, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			_ = zipWriter.Close()
			_ = zipFile.Close()
			_ = os.Remove(destZipPath)
			return results, fmt.Errorf("build archive: %w", err)
		}
		results[i] = addEntry(zipWriter, entry, names.claim(deriveFilename(entry, i)))
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip file failed")
		return results, fmt.Errorf("close zip file: %w", err)
	}
	return results, nil
}

// prepareZip creates destination file and a zip writer for it.
func prepareZip(destZipPath string) (io.WriteCloser, *zip.Writer, error) {
	zipFile, err := openOSFile(destZipPath)
	if err != nil {
		return nil, nil, err
	}
	return zipFile, zip.NewWriter(zipFile), nil
}

// addEntry copies one local file into the zip, returning the Result.
func addEntry(zipWriter *zip.Writer, entry Entry, filename string) Result {
	result := Result{Filename: filename}

	src, err := os.Open(entry.Path) //nolint:gosec // path is constructed by the application
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("path", entry.Path).Err(err).Msg("archive source open failed")
		return result
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil || !info.Mode().IsRegular() {
		result.Err = "not a regular file"
		log.Warn().Str("path", entry.Path).Msg("archive source is not a regular file")
		return result
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	header.Name = filename
	header.Method = zip.Deflate

	zipEntryWriter, err := zipWriter.CreateHeader(header)
	if err != nil {
		result.Err = err.Error()
		log.Warn().Str("path", entry.Path).Err(err).Msg("zip entry create failed")
		return result
	}
	if _, err := io.Copy(zipEntryWriter, src); err != nil {
		result.Err = err.Error()
		log.Warn().Str("path", entry.Path).Err(err).Msg("copy into zip failed")
		return result
	}
	return result
}

// deriveFilename picks the entry name, falling back to the source base name
// and then to index-based naming.
func deriveFilename(entry Entry, index int) string {
	for _, candidate := range []string{entry.Name, filepath.Base(entry.Path)} {
		base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(candidate), "\\", "/"))
		if base != "" && base != "." && base != "/" && base != ".." {
			return base
		}
	}
	return fmt.Sprintf("file-%d", index+1)
}

type nameSet map[string]struct{}

func newNameSet() nameSet { return make(nameSet) }

// claim returns name, or the first free "stem(n)ext" variant of it.
func (s nameSet) claim(name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		key := strings.ToLower(candidate)
		if _, taken := s[key]; !taken {
			s[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s(%d)%s", stem, n, ext)
	}
}

// openOSFile creates or truncates the destination file along with ensuring parent dir exists
func openOSFile(destinationPath string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(destinationPath), archiveDirPerm); err != nil { //nolint:gosec // directory created by application under controlled path
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	outputFile, err := os.Create(destinationPath) //nolint:gosec // path is constructed by the application
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return outputFile, nil
}
