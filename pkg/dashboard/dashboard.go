// Package dashboard serves the HTML page that lists recent repository
// activity. The page polls the events API; it holds no server-side state.
package dashboard

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/hookfeed/pkg/apierror"
	"github.com/codeGROOVE-dev/hookfeed/pkg/logger"
)

// DefaultPollInterval matches how often the page refreshes its list.
const DefaultPollInterval = 15 * time.Second

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type indexData struct {
	Title      string
	EventsPath string
	PollMillis int64
}

// Renderer renders the dashboard page.
type Renderer struct {
	title        string
	eventsPath   string
	pollInterval time.Duration
}

// NewRenderer returns a Renderer for a page that polls eventsPath.
func NewRenderer(title, eventsPath string, pollInterval time.Duration) *Renderer {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Renderer{title: title, eventsPath: eventsPath, pollInterval: pollInterval}
}

// RenderIndex writes the full page to w.
func (r *Renderer) RenderIndex(w io.Writer) error {
	return indexTemplate.Execute(w, indexData{
		Title:      r.title,
		EventsPath: r.eventsPath,
		PollMillis: r.pollInterval.Milliseconds(),
	})
}

// ServeHTTP serves GET /. The page is rendered into a buffer first so a
// template failure still produces a clean 500.
func (r *Renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var buf bytes.Buffer
	if err := r.RenderIndex(&buf); err != nil {
		logger.Error("failed to render dashboard", err, logger.Fields{"path": req.URL.Path})
		apierror.Write(w, apierror.UnexpectedFault(err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		logger.Warn("failed to write dashboard", logger.Fields{"error": err.Error()})
	}
}

// RegisterRoutes mounts the page at the site root.
func (r *Renderer) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /{$}", r)
}
