package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fileconv/internal/convert"
	fileutil "fileconv/internal/file"
	"fileconv/internal/task"
)

type upload struct {
	field, name, body string
}

type testEnv struct {
	router  *gin.Engine
	manager *task.Manager
	stager  *fileutil.Stager
}

// fakeDispatch writes the output unless the input name contains "fail".
func fakeDispatch(_ context.Context, _ convert.Category, in, out string, _ convert.Options) error {
	if strings.Contains(filepath.Base(in), "fail") {
		return errors.New("simulated tool error")
	}
	return os.WriteFile(out, []byte("converted"), 0o600)
}

func setupRouter(t *testing.T, d task.Dispatcher, maxUpload int64) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stager := fileutil.NewStager(t.TempDir())
	if err := stager.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	testManager := task.NewManagerWithOptions(task.Options{
		MaxConcurrentConversions: 2,
		OutputDir:                stager.OutputDir,
		Dispatcher:               d,
	})
	testRouter := gin.New()
	apiHandler := NewAPI(testManager, stager, Options{MaxUploadBytes: maxUpload})
	apiHandler.RegisterRoutes(testRouter)
	apiHandler.RegisterUIRoutes(testRouter)
	t.Cleanup(func() { testManager.WaitAll(context.Background()) })
	return testEnv{router: testRouter, manager: testManager, stager: stager}
}

func newMultipartRequest(t *testing.T, target string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = io.WriteString(fw, f.body)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(env testEnv, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return resp
}

func waitForJSON(t *testing.T, env testEnv, target string, done func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := serve(env, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code == http.StatusOK {
			if resp := decode(t, w); done(resp) {
				return resp
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting on %s", target)
	return nil
}

func TestHealthFormatsAndPresets(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)

	w := serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK || decode(t, w)["status"] != "healthy" {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}

	w = serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil))
	formats, _ := decode(t, w)["formats"].(map[string]any)
	if w.Code != http.StatusOK || formats["video"] == nil || formats["document"] == nil {
		t.Fatalf("unexpected formats response %s", w.Body.String())
	}

	w = serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/presets/video", nil))
	presets, _ := decode(t, w)["presets"].(map[string]any)
	if w.Code != http.StatusOK || presets["web_optimized"] == nil {
		t.Fatalf("unexpected presets response %s", w.Body.String())
	}
	if w := serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/presets/spreadsheet", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown category, got %d", w.Code)
	}
}

func TestConvertAndDownload(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)

	req := newMultipartRequest(t, "/api/v1/convert", map[string]string{
		"output_format": "JPG",
		"options":       `{"image_options":{"quality":90,"resize":"bogus"}}`,
	}, upload{"file", "holiday photo.png", "png-bytes"})
	w := serve(env, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	id, _ := resp["task_id"].(string)
	if id == "" || resp["status"] != string(task.StatusPending) || resp["estimated_time"] != "< 1 minute" {
		t.Fatalf("unexpected convert response %v", resp)
	}

	status := waitForJSON(t, env, "/api/v1/tasks/"+id, func(m map[string]any) bool {
		return m["status"] == string(task.StatusCompleted)
	})
	if status["file_size"] != float64(len("converted")) || status["output_format"] != ".jpg" || status["completed_at"] == nil {
		t.Fatalf("unexpected task status %v", status)
	}

	w = serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+id+"/download", nil))
	if w.Code != http.StatusOK || w.Body.String() != "converted" {
		t.Fatalf("download failed: %d %q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "holiday_photo.jpg") {
		t.Fatalf("unexpected download name %q", cd)
	}
}

func TestConvertValidationErrors(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)
	png := upload{"file", "a.png", "x"}

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"no file", newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "jpg"}), http.StatusBadRequest},
		{"no format", newMultipartRequest(t, "/api/v1/convert", nil, png), http.StatusBadRequest},
		{"unknown format", newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "nope"}, png), http.StatusBadRequest},
		{"malformed options", newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "jpg", "options": "{"}, png), http.StatusBadRequest},
		{"out of range options", newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "jpg", "options": `{"image_options":{"quality":0}}`}, png), http.StatusBadRequest},
		{"unknown preset", newMultipartRequest(t, "/api/v1/convert/preset/nope", map[string]string{"output_format": "jpg"}, png), http.StatusNotFound},
	}
	for _, tc := range cases {
		if w := serve(env, tc.req); w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.status, w.Code, w.Body.String())
		}
	}
	if entries, _ := os.ReadDir(env.stager.UploadDir); len(entries) != 0 {
		t.Fatalf("rejected requests must not leave staged files, found %d", len(entries))
	}
	if tasks, _ := env.manager.Registry().Counts(); tasks != 0 {
		t.Fatalf("rejected requests must not create tasks")
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 1024)
	req := newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "jpg"},
		upload{"file", "big.png", strings.Repeat("x", 4096)})
	if w := serve(env, req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConvertWithPreset(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)
	req := newMultipartRequest(t, "/api/v1/convert/preset/web", map[string]string{"output_format": "jpg"},
		upload{"file", "a.png", "x"})
	w := serve(env, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["task_id"].(string)
	got, ok := env.manager.Get(id)
	if !ok || got.Options.Image == nil {
		t.Fatalf("preset options not applied: %+v", got)
	}
}

func TestDownloadBeforeCompletionAndCancel(t *testing.T) {
	release := make(chan struct{})
	env := setupRouter(t, task.DispatchFunc(func(ctx context.Context, c convert.Category, in, out string, o convert.Options) error {
		<-release
		return fakeDispatch(ctx, c, in, out, o)
	}), 0)
	defer close(release)

	w := serve(env, newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "mp3"},
		upload{"file", "song.wav", "x"}))
	id := decode(t, w)["task_id"].(string)

	if w := serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+id+"/download", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before completion, got %d", w.Code)
	}
	if w := serve(env, httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/"+id, nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d", w.Code)
	}
	if w := serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/"+id, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after cancel, got %d", w.Code)
	}
	if w := serve(env, httptest.NewRequest(http.MethodDelete, "/api/v1/tasks/"+id, nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second cancel, got %d", w.Code)
	}
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)
	for _, target := range []string{
		"/api/v1/tasks/nope",
		"/api/v1/tasks/nope/download",
		"/api/v1/batches/nope",
		"/api/v1/batches/nope/archive",
	} {
		if w := serve(env, httptest.NewRequest(http.MethodGet, target, nil)); w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, w.Code)
		}
	}
	if w := serve(env, httptest.NewRequest(http.MethodDelete, "/api/v1/batches/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting unknown batch, got %d", w.Code)
	}
}

func TestBatchFlowAndArchive(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)

	req := newMultipartRequest(t, "/api/v1/batches", map[string]string{"output_format": "pdf"},
		upload{"files", "a.docx", "1"},
		upload{"files", "fail.docx", "2"},
		upload{"files", "c.docx", "3"},
	)
	w := serve(env, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	id, _ := resp["batch_id"].(string)
	if id == "" || resp["total_files"] != float64(3) {
		t.Fatalf("unexpected batch response %v", resp)
	}

	final := waitForJSON(t, env, "/api/v1/batches/"+id, func(m map[string]any) bool {
		return m["overall_progress"] == float64(100)
	})
	if final["completed_files"] != float64(2) || final["failed_files"] != float64(1) || final["archive_url"] == nil {
		t.Fatalf("unexpected final batch %v", final)
	}

	w = serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+id+"/archive", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("archive: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "a.pdf" || zr.File[1].Name != "c.pdf" {
		t.Fatalf("unexpected archive entries: %d", len(zr.File))
	}

	if w := serve(env, httptest.NewRequest(http.MethodDelete, "/api/v1/batches/"+id, nil)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on batch cancel, got %d", w.Code)
	}
	if entries, _ := os.ReadDir(env.stager.UploadDir); len(entries) != 0 {
		t.Fatalf("batch cancel should remove staged inputs, found %d", len(entries))
	}
}

func TestBatchRejectsTooManyFiles(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)
	files := make([]upload, 11)
	for i := range files {
		files[i] = upload{"files", "f.png", "x"}
	}
	w := serve(env, newMultipartRequest(t, "/api/v1/batches", map[string]string{"output_format": "jpg"}, files...))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if _, batches := env.manager.Registry().Counts(); batches != 0 {
		t.Fatalf("no batch should be stored")
	}
	if entries, _ := os.ReadDir(env.stager.UploadDir); len(entries) != 0 {
		t.Fatalf("nothing should be staged, found %d", len(entries))
	}
}

func TestArchiveWithNothingCompleted(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)
	w := serve(env, newMultipartRequest(t, "/api/v1/batches", map[string]string{"output_format": "mp3"},
		upload{"files", "fail1.wav", "x"}, upload{"files", "fail2.wav", "y"}))
	id := decode(t, w)["batch_id"].(string)
	waitForJSON(t, env, "/api/v1/batches/"+id, func(m map[string]any) bool {
		return m["overall_progress"] == float64(100)
	})
	if w := serve(env, httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+id+"/archive", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTaskWebsocketStreamsUntilCompleted(t *testing.T) {
	release := make(chan struct{})
	env := setupRouter(t, task.DispatchFunc(func(ctx context.Context, c convert.Category, in, out string, o convert.Options) error {
		<-release
		return fakeDispatch(ctx, c, in, out, o)
	}), 0)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	w := serve(env, newMultipartRequest(t, "/api/v1/convert", map[string]string{"output_format": "ogg"},
		upload{"file", "a.mp3", "x"}))
	id := decode(t, w)["task_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/tasks/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first["task_id"] != id {
		t.Fatalf("unexpected snapshot %v", first)
	}
	close(release)

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("stream ended before completion: %v", err)
		}
		if msg["status"] == string(task.StatusCompleted) {
			return
		}
	}
}

func TestUIHomeRenders(t *testing.T) {
	env := setupRouter(t, task.DispatchFunc(fakeDispatch), 0)
	w := serve(env, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Convert a file") {
		t.Fatalf("unexpected home page %d", w.Code)
	}
	w = serve(env, httptest.NewRequest(http.MethodGet, "/ui/tasks/missing", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "task not found") {
		t.Fatalf("expected not found page, got %d", w.Code)
	}
}

func TestLoggerSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ZerologLogger())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc" {
		t.Fatalf("expected client request id to be kept, got %q", got)
	}
}

func TestWebsocketNeverStepsBackToOlderState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	now := time.Now()
	processing := task.Task{ID: "t1", OriginalName: "a.png", OutputFormat: ".jpg", Status: task.StatusProcessing, CreatedAt: now, Version: 2}
	completed := processing
	completed.Status, completed.CompletedAt, completed.Version = task.StatusCompleted, &now, 3

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		hub.Serve(c, "t1", func() (any, uint64, bool) {
			// the worker finishes between subscribing and sending the snapshot
			hub.Publish(task.Event{ID: "t1", Task: &completed})
			return toTaskResponse(processing), processing.Version, true
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first["status"] != string(task.StatusCompleted) {
		t.Fatalf("expected completed first, got %v", first)
	}

	// a stale event is dropped; the next message must be newer than the first
	hub.Publish(task.Event{ID: "t1", Task: &processing})
	hub.Publish(task.Event{ID: "t1", Removed: true})
	var second map[string]any
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if second["removed"] != true {
		t.Fatalf("stale state delivered after completion: %v", second)
	}

	// nothing follows a removal
	late := completed
	late.Version = 10
	hub.Publish(task.Event{ID: "t1", Task: &late})
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var third map[string]any
	if err := conn.ReadJSON(&third); err == nil {
		t.Fatalf("unexpected message after removal: %v", third)
	}
}
