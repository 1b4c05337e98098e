package api

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	fileutil "nasupload/internal/file"
	"nasupload/internal/upload"
)

var uiFuncs = template.FuncMap{
	"bytes": formatBytes,
	"speed": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return formatBytes(int64(*v)) + "/s"
	},
	"eta": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return formatSeconds(*v)
	},
	"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"terminal": func(s upload.Status) bool { return s.Terminal() },
}

var uiTemplates = template.Must(template.New("status").Funcs(uiFuncs).Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .State.IsUploading}}<meta http-equiv="refresh" content="2"/>{{end}}
  <title>NAS uploads</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:960px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    input[type=text]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;flex:1}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    table{width:100%;border-collapse:collapse}
    td,th{padding:6px;border-bottom:1px solid #eee;text-align:left;font-size:14px}
    .status{display:inline-block;padding:2px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .failed{background:#fde7e7;color:#b3261e}
    .completed{background:#e6f4ea;color:#137333}
    progress{width:120px}
  </style>
</head>
<body>
  <h1>NAS uploads</h1>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}

  <div class="card">
    <form method="post" action="/ui/uploads" class="row">
      <input type="text" name="path" placeholder="/local/path/to/file" required />
      <input type="text" name="destination" placeholder="/share/destination" />
      <button class="btn" type="submit">Upload</button>
    </form>
  </div>

  <div class="card">
    <div class="row">
      <progress max="100" value="{{.State.OverallPercentage}}"></progress>
      <span>{{pct .State.OverallPercentage}}</span>
      <span class="muted">{{.State.ActiveCount}} active · {{.State.PendingCount}} waiting</span>
      <form method="post" action="/ui/uploads/clear"><button class="btn secondary" type="submit">Clear finished</button></form>
    </div>
    {{if .Uploads}}
    <table>
      <tr><th>File</th><th>Destination</th><th>Status</th><th>Progress</th><th>Speed</th><th>ETA</th><th></th></tr>
      {{range .Uploads}}
      <tr>
        <td class="mono">{{.Filename}}</td>
        <td class="mono">{{.Destination}}</td>
        <td><span class="status {{.Status}}">{{.Status}}</span>{{if .Error}} <span class="muted">{{.Error}}</span>{{end}}</td>
        <td><progress max="100" value="{{.Percentage}}"></progress> {{bytes .UploadedBytes}} / {{bytes .TotalBytes}}</td>
        <td>{{speed .SpeedBytesPerSec}}</td>
        <td>{{eta .ETASeconds}}</td>
        <td>{{if not (terminal .Status)}}<form method="post" action="/ui/uploads/{{.ID}}/abort"><button class="btn secondary" type="submit">Abort</button></form>{{end}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="muted">No uploads</div>
    {{end}}
  </div>
</body>
</html>
`))

// RegisterUIRoutes registers the HTML status page
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIStatus)
	router.POST("/ui/uploads", a.UIEnqueue)
	router.POST("/ui/uploads/clear", a.UIClear)
	router.POST("/ui/uploads/:id/abort", a.UIAbort)
}

// UIStatus renders the upload list
func (a *API) UIStatus(c *gin.Context) {
	a.renderStatus(c, http.StatusOK, "")
}

// UIEnqueue queues the file from the form and redirects back
func (a *API) UIEnqueue(c *gin.Context) {
	path := strings.TrimSpace(c.PostForm("path"))
	src, err := fileutil.OpenLocal(path)
	if err != nil {
		a.renderStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	a.uploads.Enqueue(src, strings.TrimSpace(c.PostForm("destination")))
	c.Redirect(http.StatusFound, "/")
}

// UIAbort aborts one upload and redirects back
func (a *API) UIAbort(c *gin.Context) {
	a.uploads.Abort(c.Param("id"))
	c.Redirect(http.StatusFound, "/")
}

// UIClear drops finished uploads and redirects back
func (a *API) UIClear(c *gin.Context) {
	a.uploads.ClearCompleted()
	c.Redirect(http.StatusFound, "/")
}

func (a *API) renderStatus(c *gin.Context, code int, errMsg string) {
	state := a.uploads.Snapshot()
	c.HTML(code, "status", gin.H{"State": state, "Uploads": state.Ordered(), "Error": errMsg})
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Second).String()
}
