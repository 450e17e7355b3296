package handlers

import (
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/arbor"
)

// PageHandler serves the single-page evaluation UI
type PageHandler struct {
	logger      arbor.ILogger
	templates   *template.Template
	clientDebug bool
}

// NewPageHandler parses the page templates from the pages directory
func NewPageHandler(logger arbor.ILogger, clientDebug bool) *PageHandler {
	pagesDir := findPagesDir()
	templates := template.Must(template.ParseGlob(filepath.Join(pagesDir, "*.html")))

	return &PageHandler{
		logger:      logger,
		templates:   templates,
		clientDebug: clientDebug,
	}
}

// findPagesDir locates the pages directory relative to common run locations
func findPagesDir() string {
	dirs := []string{
		"./pages",  // Running from project root
		"../pages", // Running from bin/
		".",        // Deployed alongside the binary
	}

	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
			abs, _ := filepath.Abs(dir)
			return abs
		}
	}

	return "./pages"
}

// IndexHandler handles GET /
func (h *PageHandler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := map[string]interface{}{
		"Version":     common.GetVersion(),
		"ClientDebug": h.clientDebug,
	}

	if err := h.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to render index page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
