package file

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"report.docx":         "report.docx",
		"my photo (1).PNG":    "my_photo__1_.PNG",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\a b.mp4`: "a_b.mp4",
		"..":                  "file",
		"   ":                 "file",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q)=%q want %q", in, got, want)
		}
	}
}

func TestStemAndDownloadName(t *testing.T) {
	if got := DownloadName("Holiday Clip.MOV", ".mp4"); got != "Holiday_Clip.mp4" {
		t.Fatalf("DownloadName=%q", got)
	}
	if got := Stem("noext"); got != "noext" {
		t.Fatalf("Stem=%q", got)
	}
}

func TestStageWritesUniqueFiles(t *testing.T) {
	s := NewStager(t.TempDir())
	if err := s.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	const n = 8
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, size, err := s.Stage(strings.NewReader("hello"), "same.png")
			if err != nil || size != 5 {
				t.Errorf("stage: size=%d err=%v", size, err)
				return
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		if seen[p] {
			t.Fatalf("duplicate staged path %s", p)
		}
		seen[p] = true
		if filepath.Ext(p) != ".png" || filepath.Dir(p) != s.UploadDir {
			t.Fatalf("unexpected staged path %s", p)
		}
		if b, err := os.ReadFile(p); err != nil || string(b) != "hello" {
			t.Fatalf("staged content %q err=%v", b, err)
		}
	}
}

func TestStageRejectsEmptyName(t *testing.T) {
	s := NewStager(t.TempDir())
	if _, _, err := s.Stage(strings.NewReader("x"), " "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	s := NewStager("data")
	a := s.OutputPath("clip.mov", ".mp4")
	b := s.OutputPath("clip.mov", ".mp4")
	if a == b {
		t.Fatalf("output paths must be unique")
	}
	if !strings.HasSuffix(a, "_clip.mp4") || filepath.Dir(a) != filepath.Join("data", "outputs") {
		t.Fatalf("unexpected output path %s", a)
	}
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.bin")
	fresh := filepath.Join(dir, "fresh.bin")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	now := time.Now()
	past := now.Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	n, err := Sweep(dir, 24*time.Hour, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d err=%v", n, err)
	}
	if Exists(old) || !Exists(fresh) {
		t.Fatalf("wrong files removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "sub")); err != nil {
		t.Fatalf("directories must be left alone: %v", err)
	}
	if n, err := Sweep(filepath.Join(dir, "missing"), time.Hour, now); err != nil || n != 0 {
		t.Fatalf("missing dir should be a no-op, got %d %v", n, err)
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		512:                    "512 B",
		1536:                   "1.5 KB",
		5 * 1024 * 1024:        "5.0 MB",
		3 * 1024 * 1024 * 1024: "3.0 GB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Fatalf("FormatSize(%d)=%q want %q", in, got, want)
		}
	}
}

func TestRemoveQuietlyAndSize(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a")
	if err := os.WriteFile(p, []byte("abc"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if size, ok := Size(p); !ok || size != 3 {
		t.Fatalf("size=%d ok=%v", size, ok)
	}
	RemoveQuietly("", p, p+".missing")
	if Exists(p) {
		t.Fatalf("file should be removed")
	}
}
