package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fileconv/internal/convert"
	"fileconv/internal/task"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{"join": strings.Join}).Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>fileconv</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text],textarea{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%;box-sizing:border-box}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    progress{width:100%}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">fileconv</a></h1>
    <div class="muted">Minimal no-JS helper for API</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
{{end}}

{{define "foot"}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>Convert a file</h2>
    <form method="post" action="/ui/convert" enctype="multipart/form-data">
      <p><input type="file" name="file" required /></p>
      <p><input type="text" name="output_format" placeholder="Output format, e.g. mp4, jpg, pdf, mp3" required /></p>
      <p><textarea name="options" rows="3" placeholder='{"image_options":{"quality":90,"resize":"800x600"}}'></textarea></p>
      <button class="btn" type="submit">Convert</button>
    </form>
    <div class="muted">POST /api/v1/convert</div>
  </div>

  <div class="card">
    <h2>Convert a batch (up to {{.MaxBatchFiles}} files)</h2>
    <form method="post" action="/ui/batches" enctype="multipart/form-data">
      <p><input type="file" name="files" multiple required /></p>
      <p><input type="text" name="output_format" placeholder="Output format for every file" required /></p>
      <p><textarea name="options" rows="3" placeholder='{"video_options":{"crf":28}}'></textarea></p>
      <button class="btn" type="submit">Start batch</button>
    </form>
    <div class="muted">POST /api/v1/batches</div>
  </div>

  <div class="card">
    <h2>Open existing task or batch</h2>
    <form method="get" action="/ui/open">
      <div class="row">
        <input type="text" name="id" placeholder="Task or batch ID" required />
        <button class="btn" type="submit">Open</button>
      </div>
    </form>
  </div>

  <div class="card">
    <h2>Supported formats</h2>
    <ul class="list">
    {{range $category, $exts := .Formats}}
      <li><strong>{{$category}}</strong> <span class="mono muted">{{join $exts " "}}</span></li>
    {{end}}
    </ul>
  </div>
  {{template "foot" .}}
{{end}}

{{define "task"}}
  {{template "head" .}}
  <div class="card">
    <h2>Task <span class="mono">{{.Task.TaskID}}</span></h2>
    <div>File: <strong>{{.Task.InputFile}}</strong> → {{.Task.OutputFile}}</div>
    <div>Status: <span class="status">{{.Task.Status}}</span></div>
    <div class="muted">Created at: {{.Task.CreatedAt}}{{if .Task.CompletedAt}} · completed at: {{.Task.CompletedAt}}{{end}}</div>
    {{if .Task.ErrorMessage}}<div style="color:#b3261e">{{.Task.ErrorMessage}}</div>{{end}}
    {{if .Task.FileSizeHuman}}<div class="muted">Output size: {{.Task.FileSizeHuman}}</div>{{end}}
    {{if .Task.BatchID}}<div class="muted">Part of batch <a class="mono" href="/ui/batches/{{.Task.BatchID}}">{{.Task.BatchID}}</a></div>{{end}}
  </div>
  <div class="card">
    {{if .Task.DownloadURL}}<a class="btn" href="{{.Task.DownloadURL}}">Download</a>{{end}}
    <a class="btn secondary" href="/ui/tasks/{{.Task.TaskID}}">Refresh</a>
    <div class="muted">GET /api/v1/tasks/{{.Task.TaskID}}</div>
  </div>
  {{template "foot" .}}
{{end}}

{{define "batch"}}
  {{template "head" .}}
  <div class="card">
    <h2>Batch <span class="mono">{{.Batch.BatchID}}</span></h2>
    <progress max="100" value="{{.Batch.OverallProgress}}"></progress>
    <div>{{.Batch.OverallProgress}}% · {{.Batch.CompletedFiles}} completed · {{.Batch.FailedFiles}} failed · {{.Batch.TotalFiles}} total</div>
  </div>
  <div class="card">
    <h3>Files</h3>
    <ul class="list">
    {{range .Batch.Tasks}}
      <li>
        <a class="mono" href="/ui/tasks/{{.TaskID}}">{{.InputFile}}</a>
        <span class="status">{{.Status}}</span>
        {{if .ErrorMessage}}<span class="muted"> · error: {{.ErrorMessage}}</span>{{end}}
      </li>
    {{end}}
    </ul>
  </div>
  <div class="card">
    {{if .Batch.ArchiveURL}}<a class="btn" href="{{.Batch.ArchiveURL}}">Download zip</a>{{end}}
    <a class="btn secondary" href="/ui/batches/{{.Batch.BatchID}}">Refresh</a>
    <div class="muted">GET /api/v1/batches/{{.Batch.BatchID}}</div>
  </div>
  {{template "foot" .}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/open", a.UIOpenExisting)
	router.POST("/ui/convert", a.UIConvert)
	router.POST("/ui/batches", a.UICreateBatch)
	router.GET("/ui/tasks/:id", a.UITask)
	router.GET("/ui/batches/:id", a.UIBatch)
}

// UIHome renders the home page
func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	c.HTML(status, "home", gin.H{
		"Error":         errMsg,
		"Formats":       convert.SupportedFormats(),
		"MaxBatchFiles": a.taskManager.MaxBatchFiles(),
	})
}

// UIOpenExisting redirects to the task or batch page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	switch {
	case id == "":
		c.Redirect(http.StatusFound, "/")
	case a.isBatch(id):
		c.Redirect(http.StatusFound, "/ui/batches/"+id)
	default:
		c.Redirect(http.StatusFound, "/ui/tasks/"+id)
	}
}

// UIConvert starts a conversion from the form and redirects to its page
func (a *API) UIConvert(c *gin.Context) {
	a.limitBody(c)
	upload, format, err := a.readSingleUpload(c)
	if err != nil {
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	opts, err := formOptions(c, upload.Filename)
	if err != nil {
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	created, _, err := a.startConversion(upload, format, opts)
	if err != nil {
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/tasks/"+created.ID)
}

// UICreateBatch starts a batch from the form and redirects to its page
func (a *API) UICreateBatch(c *gin.Context) {
	a.limitBody(c)
	form, err := c.MultipartForm()
	if err != nil {
		err = uploadError(err)
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	created, err := a.startBatch(c.Request.Context(), form.File["files"], c.PostForm("output_format"), c.PostForm("options"))
	if err != nil {
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/batches/"+created.ID)
}

// UITask renders a task page
func (a *API) UITask(c *gin.Context) {
	if t, ok := a.taskManager.Get(c.Param("id")); ok {
		c.HTML(http.StatusOK, "task", gin.H{"Task": toTaskResponse(t)})
		return
	}
	a.renderHome(c, http.StatusNotFound, task.ErrTaskNotFound.Error())
}

// UIBatch renders a batch page
func (a *API) UIBatch(c *gin.Context) {
	if b, ok := a.taskManager.GetBatch(c.Param("id")); ok {
		c.HTML(http.StatusOK, "batch", gin.H{"Batch": toBatchResponse(b)})
		return
	}
	a.renderHome(c, http.StatusNotFound, task.ErrBatchNotFound.Error())
}

func (a *API) isBatch(id string) bool {
	_, ok := a.taskManager.GetBatch(id)
	return ok
}
