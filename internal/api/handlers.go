package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fileconv/internal/convert"
	fileutil "fileconv/internal/file"
	"fileconv/internal/task"
)

var (
	errNoFile        = errors.New("no file provided")
	errNoFormat      = errors.New("output_format is required")
	errTooLarge      = errors.New("upload exceeds size limit")
	errPresetUnknown = errors.New("preset not found")
	errCategory      = errors.New("category not found")
)

type convertResponse struct {
	TaskID        string      `json:"task_id"`
	Status        task.Status `json:"status"`
	Message       string      `json:"message"`
	EstimatedTime string      `json:"estimated_time,omitempty"`
}

type taskResponse struct {
	TaskID        string           `json:"task_id"`
	BatchID       string           `json:"batch_id,omitempty"`
	Status        task.Status      `json:"status"`
	InputFile     string           `json:"input_file"`
	OutputFile    string           `json:"output_file"`
	InputFormat   string           `json:"input_format"`
	OutputFormat  string           `json:"output_format"`
	Category      convert.Category `json:"category"`
	CreatedAt     string           `json:"created_at"`
	CompletedAt   *string          `json:"completed_at"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	FileSize      *int64           `json:"file_size"`
	FileSizeHuman string           `json:"file_size_human,omitempty"`
	DownloadURL   string           `json:"download_url,omitempty"`
	Version       uint64           `json:"version"`
}

type batchResponse struct {
	BatchID         string         `json:"batch_id"`
	OutputFormat    string         `json:"output_format"`
	TotalFiles      int            `json:"total_files"`
	CompletedFiles  int            `json:"completed_files"`
	FailedFiles     int            `json:"failed_files"`
	OverallProgress int            `json:"overall_progress"`
	CreatedAt       string         `json:"created_at"`
	CompletedAt     *string        `json:"completed_at"`
	Tasks           []taskResponse `json:"tasks"`
	ArchiveURL      string         `json:"archive_url,omitempty"`
	Version         uint64         `json:"version"`
}

// Options configures the HTTP boundary.
type Options struct {
	MaxUploadBytes int64
	// Tools are reported by /health when missing from PATH.
	Tools []string
}

type API struct {
	taskManager    *task.Manager
	stager         *fileutil.Stager
	hub            *Hub
	maxUploadBytes int64
	tools          []string
}

const defaultMaxUploadBytes = 100 << 20

func NewAPI(taskManager *task.Manager, stager *fileutil.Stager, opts Options) *API {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	a := &API{
		taskManager:    taskManager,
		stager:         stager,
		hub:            NewHub(),
		maxUploadBytes: opts.MaxUploadBytes,
		tools:          opts.Tools,
	}
	taskManager.UseNotifier(a.hub.Publish)
	return a
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/health", a.Health)
		api.GET("/formats", a.Formats)
		api.GET("/presets/:category", a.Presets)

		api.POST("/convert", a.Convert)
		api.POST("/convert/preset/:name", a.ConvertWithPreset)

		api.GET("/tasks/:id", a.GetTask)
		api.DELETE("/tasks/:id", a.CancelTask)
		api.GET("/tasks/:id/download", a.DownloadTask)
		api.GET("/tasks/:id/ws", a.TaskWS)

		api.POST("/batches", a.CreateBatch)
		api.GET("/batches/:id", a.GetBatch)
		api.DELETE("/batches/:id", a.CancelBatch)
		api.GET("/batches/:id/archive", a.DownloadBatchArchive)
		api.GET("/batches/:id/ws", a.BatchWS)
	}
}

// Health reports liveness plus load and missing external tools.
func (a *API) Health(c *gin.Context) {
	tasks, batches := a.taskManager.Registry().Counts()
	resp := gin.H{
		"status":             "healthy",
		"active_conversions": a.taskManager.ActiveConversions(),
		"busy":               a.taskManager.IsBusy(),
		"tasks":              tasks,
		"batches":            batches,
	}
	if missing := convert.CheckTools(a.tools...); len(missing) > 0 {
		resp["status"] = "degraded"
		resp["missing_tools"] = missing
	}
	c.JSON(http.StatusOK, resp)
}

// Formats lists the supported extensions per category
func (a *API) Formats(c *gin.Context) {
	formats := convert.SupportedFormats()
	resp := make(map[string][]string, len(formats))
	for category, exts := range formats {
		resp[string(category)] = exts
	}
	c.JSON(http.StatusOK, gin.H{"formats": resp})
}

// Presets lists the quality presets of one category
func (a *API) Presets(c *gin.Context) {
	category := convert.Category(strings.ToLower(c.Param("category")))
	presets, ok := convert.Presets(category)
	if !ok {
		a.respondError(c, fmt.Errorf("%w: %s", errCategory, category), "presets lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "presets": presets})
}

// Convert stages one upload and starts its conversion
func (a *API) Convert(c *gin.Context) {
	a.limitBody(c)
	upload, format, err := a.readSingleUpload(c)
	if err != nil {
		a.respondError(c, err, "invalid convert request")
		return
	}
	opts, err := formOptions(c, upload.Filename)
	if err != nil {
		a.respondError(c, err, "invalid convert options")
		return
	}
	a.submit(c, upload, format, opts)
}

// ConvertWithPreset converts using a named preset of the upload's category
func (a *API) ConvertWithPreset(c *gin.Context) {
	a.limitBody(c)
	upload, format, err := a.readSingleUpload(c)
	if err != nil {
		a.respondError(c, err, "invalid preset convert request")
		return
	}
	name := c.Param("name")
	preset, ok := convert.LookupPreset(convert.Classify(upload.Filename), name)
	if !ok {
		a.respondError(c, fmt.Errorf("%w: %s", errPresetUnknown, name), "preset lookup failed")
		return
	}
	a.submit(c, upload, format, preset.Options)
}

func (a *API) submit(c *gin.Context, upload *multipart.FileHeader, format string, opts convert.Options) {
	created, size, err := a.startConversion(upload, format, opts)
	if err != nil {
		a.respondError(c, err, "staging upload failed")
		return
	}
	c.JSON(http.StatusAccepted, convertResponse{
		TaskID:        created.ID,
		Status:        created.Status,
		Message:       "Conversion started for " + upload.Filename,
		EstimatedTime: estimateDuration(created.Category, size),
	})
}

// startConversion stages the upload and submits its task.
func (a *API) startConversion(upload *multipart.FileHeader, format string, opts convert.Options) (task.Task, int64, error) {
	inputPath, size, err := a.stageUpload(upload)
	if err != nil {
		return task.Task{}, 0, err
	}
	created := a.taskManager.Submit(task.NewTask{
		OriginalName: upload.Filename,
		InputPath:    inputPath,
		OutputPath:   a.stager.OutputPath(upload.Filename, format),
		Options:      opts,
	})
	log.Info().Str("task_id", created.ID).Str("file", upload.Filename).Str("output_format", format).
		Str("category", string(created.Category)).Msg("conversion task created")
	return created, size, nil
}

// GetTask returns task status
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	found, ok := a.taskManager.Get(id)
	if !ok {
		a.respondError(c, task.ErrTaskNotFound, "task lookup failed")
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(found))
}

// CancelTask removes a task and its files
func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.CancelTask(id); err != nil {
		a.respondError(c, err, "cancel task failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task cancelled", "task_id": id})
}

// DownloadTask serves the converted file once the task completed
func (a *API) DownloadTask(c *gin.Context) {
	id := c.Param("id")
	done, err := a.taskManager.Output(id)
	if err != nil {
		a.respondError(c, err, "download not available")
		return
	}
	log.Info().Str("task_id", id).Str("path", done.OutputPath).Msg("serving converted file")
	c.FileAttachment(done.OutputPath, fileutil.DownloadName(done.OriginalName, done.OutputFormat))
}

// CreateBatch stages every upload concurrently and starts the batch
func (a *API) CreateBatch(c *gin.Context) {
	a.limitBody(c)
	form, err := c.MultipartForm()
	if err != nil {
		a.respondError(c, uploadError(err), "invalid batch request")
		return
	}
	created, err := a.startBatch(c.Request.Context(), form.File["files"], c.PostForm("output_format"), c.PostForm("options"))
	if err != nil {
		a.respondError(c, err, "create batch failed")
		return
	}
	c.JSON(http.StatusAccepted, toBatchResponse(created))
}

// startBatch validates the request, stages the uploads and runs the batch.
// When anything fails, every file staged so far is removed.
func (a *API) startBatch(ctx context.Context, uploads []*multipart.FileHeader, rawFormat, rawOptions string) (task.Batch, error) {
	switch {
	case len(uploads) == 0:
		return task.Batch{}, task.ErrNoFiles
	case len(uploads) > a.taskManager.MaxBatchFiles():
		return task.Batch{}, fmt.Errorf("%w: max %d per batch", task.ErrTooManyFiles, a.taskManager.MaxBatchFiles())
	}
	format, err := outputFormat(rawFormat)
	if err != nil {
		return task.Batch{}, err
	}
	reqOpts, err := convert.ParseRequestOptions([]byte(rawOptions))
	if err != nil {
		return task.Batch{}, err
	}

	files, err := a.stageAll(ctx, uploads)
	if err != nil {
		return task.Batch{}, err
	}
	created, err := a.taskManager.CreateBatch(files, format, reqOpts)
	if err != nil {
		for _, f := range files {
			fileutil.RemoveQuietly(f.InputPath)
		}
		return task.Batch{}, err
	}
	a.taskManager.RunBatch(created.ID)
	return created, nil
}

func (a *API) stageAll(ctx context.Context, uploads []*multipart.FileHeader) ([]task.BatchFile, error) {
	files := make([]task.BatchFile, len(uploads))
	g, ctx := errgroup.WithContext(ctx)
	for i, upload := range uploads {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path, _, err := a.stageUpload(upload)
			if err != nil {
				return fmt.Errorf("%s: %w", upload.Filename, err)
			}
			files[i] = task.BatchFile{OriginalName: upload.Filename, InputPath: path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range files {
			fileutil.RemoveQuietly(f.InputPath)
		}
		return nil, err
	}
	return files, nil
}

// GetBatch returns batch status with every task
func (a *API) GetBatch(c *gin.Context) {
	b, ok := a.taskManager.GetBatch(c.Param("id"))
	if !ok {
		a.respondError(c, task.ErrBatchNotFound, "batch lookup failed")
		return
	}
	c.JSON(http.StatusOK, toBatchResponse(b))
}

// CancelBatch removes a batch and its files
func (a *API) CancelBatch(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.CancelBatch(id); err != nil {
		a.respondError(c, err, "cancel batch failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "batch cancelled", "batch_id": id})
}

// DownloadBatchArchive zips the completed outputs and serves the archive
func (a *API) DownloadBatchArchive(c *gin.Context) {
	id := c.Param("id")
	dest := filepath.Join(a.stager.OutputDir, "batch_"+uuid.NewString()+".zip")
	defer fileutil.RemoveQuietly(dest)

	results, err := a.taskManager.ArchiveBatch(c.Request.Context(), id, dest)
	if err != nil {
		a.respondError(c, err, "batch archive failed")
		return
	}
	log.Info().Str("batch_id", id).Int("entries", len(results)).Msg("serving batch archive")
	c.FileAttachment(dest, "batch_"+id+".zip")
}

func (a *API) TaskWS(c *gin.Context) {
	id := c.Param("id")
	if _, ok := a.taskManager.Get(id); !ok {
		a.respondError(c, task.ErrTaskNotFound, "task ws lookup failed")
		return
	}
	a.hub.Serve(c, id, func() (any, uint64, bool) {
		t, ok := a.taskManager.Get(id)
		return toTaskResponse(t), t.Version, ok
	})
}

func (a *API) BatchWS(c *gin.Context) {
	id := c.Param("id")
	if _, ok := a.taskManager.GetBatch(id); !ok {
		a.respondError(c, task.ErrBatchNotFound, "batch ws lookup failed")
		return
	}
	a.hub.Serve(c, id, func() (any, uint64, bool) {
		b, ok := a.taskManager.GetBatch(id)
		return toBatchResponse(b), b.Version, ok
	})
}

func (a *API) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
}

func (a *API) readSingleUpload(c *gin.Context) (*multipart.FileHeader, string, error) {
	upload, err := c.FormFile("file")
	if err != nil {
		return nil, "", uploadError(err)
	}
	if strings.TrimSpace(upload.Filename) == "" {
		return nil, "", fileutil.ErrEmptyName
	}
	format, err := outputFormat(c.PostForm("output_format"))
	if err != nil {
		return nil, "", err
	}
	return upload, format, nil
}

func (a *API) stageUpload(upload *multipart.FileHeader) (string, int64, error) {
	src, err := upload.Open()
	if err != nil {
		return "", 0, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()
	return a.stager.Stage(src, upload.Filename)
}

// formOptions resolves the "options" form field for the upload's category.
func formOptions(c *gin.Context, filename string) (convert.Options, error) {
	reqOpts, err := convert.ParseRequestOptions([]byte(c.PostForm("options")))
	if err != nil {
		return convert.Options{}, err
	}
	return reqOpts.For(convert.Classify(filename))
}

func outputFormat(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errNoFormat
	}
	format := convert.NormalizeFormat(raw)
	if !convert.IsKnownFormat(format) {
		return "", fmt.Errorf("%w: %q", task.ErrUnsupportedFormat, raw)
	}
	return format, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: max %d bytes", errTooLarge, tooLarge.Limit)
	}
	return errNoFile
}

// estimateDuration mirrors the rough guess given to clients: video takes
// about a minute per 10 MB, everything else under a minute.
func estimateDuration(category convert.Category, size int64) string {
	if category != convert.CategoryVideo {
		return "< 1 minute"
	}
	return fmt.Sprintf("%d minutes", max(1, size/(10<<20)))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, task.ErrBatchNotFound),
		errors.Is(err, task.ErrOutputMissing),
		errors.Is(err, errPresetUnknown),
		errors.Is(err, errCategory):
		return http.StatusNotFound
	case errors.Is(err, errNoFile),
		errors.Is(err, errNoFormat),
		errors.Is(err, errTooLarge),
		errors.Is(err, fileutil.ErrEmptyName),
		errors.Is(err, convert.ErrInvalidOptions),
		errors.Is(err, task.ErrNoFiles),
		errors.Is(err, task.ErrTooManyFiles),
		errors.Is(err, task.ErrUnsupportedFormat),
		errors.Is(err, task.ErrNotCompleted),
		errors.Is(err, task.ErrNothingToArchive),
		errors.Is(err, task.ErrOwnedByBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) respondError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Str("id", c.Param("id")).Msg(msg)

	text := err.Error()
	if status >= http.StatusInternalServerError {
		text = "internal error: " + msg
	}
	c.AbortWithStatusJSON(status, gin.H{"error": text})
}

func toTaskResponse(t task.Task) taskResponse {
	resp := taskResponse{
		TaskID:       t.ID,
		BatchID:      t.BatchID,
		Status:       t.Status,
		InputFile:    t.OriginalName,
		OutputFile:   fileutil.DownloadName(t.OriginalName, t.OutputFormat),
		InputFormat:  t.InputFormat,
		OutputFormat: t.OutputFormat,
		Category:     t.Category,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:  formatTime(t.CompletedAt),
		ErrorMessage: t.ErrorMessage,
		Version:      t.Version,
	}
	if size, ok := fileutil.Size(t.OutputPath); ok {
		resp.FileSize = &size
		resp.FileSizeHuman = fileutil.FormatSize(size)
	}
	if t.Status == task.StatusCompleted {
		resp.DownloadURL = "/api/v1/tasks/" + t.ID + "/download"
	}
	return resp
}

func toBatchResponse(b task.Batch) batchResponse {
	resp := batchResponse{
		BatchID:         b.ID,
		OutputFormat:    b.OutputFormat,
		TotalFiles:      b.TotalFiles,
		CompletedFiles:  b.CompletedFiles,
		FailedFiles:     b.FailedFiles,
		OverallProgress: b.OverallProgress,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt:     formatTime(b.CompletedAt),
		Tasks:           make([]taskResponse, 0, len(b.Tasks)),
		Version:         b.Version,
	}
	for _, t := range b.Tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	if b.CompletedFiles > 0 {
		resp.ArchiveURL = "/api/v1/batches/" + b.ID + "/archive"
	}
	return resp
}

func formatTime(at *time.Time) *string {
	if at == nil {
		return nil
	}
	s := at.UTC().Format(time.RFC3339)
	return &s
}
