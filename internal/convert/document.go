package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultDocumentTimeout = 60 * time.Second

// DocumentConverter converts office documents with headless LibreOffice.
type DocumentConverter struct {
	SofficePath string
	Timeout     time.Duration
	Runner      Runner
}

func NewDocumentConverter(sofficePath string, timeout time.Duration, runner Runner) *DocumentConverter {
	if sofficePath == "" {
		sofficePath = "soffice"
	}
	if timeout <= 0 {
		timeout = defaultDocumentTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &DocumentConverter{SofficePath: sofficePath, Timeout: timeout, Runner: runner}
}

// Convert writes into a private work dir because soffice picks the output
// file name itself, then moves the result to outputPath.
func (c *DocumentConverter) Convert(ctx context.Context, inputPath, outputPath string, _ Options) error {
	targetExt := strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), ".")
	if targetExt == "" {
		return errors.New("document conversion needs an output extension")
	}

	workDir, err := os.MkdirTemp(filepath.Dir(outputPath), ".soffice-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return fmt.Errorf("resolve input path: %w", err)
	}
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	out, err := c.Runner.Run(runCtx, c.SofficePath, documentArgs(absInput, absWork, targetExt)...)
	if err != nil {
		return toolError(runCtx, "libreoffice", out, err)
	}

	produced, err := findProduced(absWork, targetExt)
	if err != nil {
		return err
	}
	if err := os.Rename(produced, outputPath); err != nil {
		return fmt.Errorf("move converted document: %w", err)
	}
	return nil
}

func documentArgs(absInput, absWorkDir, targetExt string) []string {
	return []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(absWorkDir, "profile")),
		"--headless",
		"--convert-to", targetExt,
		"--outdir", absWorkDir,
		absInput,
	}
}

func findProduced(dir, ext string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*."+ext))
	if err != nil {
		return "", fmt.Errorf("look up converted document: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("libreoffice produced no .%s file", ext)
	}
	return matches[0], nil
}
