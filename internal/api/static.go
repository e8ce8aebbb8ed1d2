package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// StaticFileHandler serves a local directory without client caching,
// falling back to index.html for unknown paths
type StaticFileHandler struct {
	root   string
	files  http.Handler
	logger *logger.Logger
}

// NewStaticFileHandler creates a new static file handler
func NewStaticFileHandler(root string, log *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		root:   root,
		files:  http.FileServer(http.Dir(root)),
		logger: log.Named("static-handler"),
	}
}

// ServeHTTP serves static files
func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	// http.Dir rejects paths escaping root, so only existence matters here
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name != "" {
		if _, err := os.Stat(filepath.Join(h.root, filepath.FromSlash(name))); os.IsNotExist(err) {
			h.logger.Debug("Static file not found, serving index", logger.String("path", r.URL.Path))
			http.ServeFile(w, r, filepath.Join(h.root, "index.html"))
			return
		}
	}

	h.files.ServeHTTP(w, r)
}
