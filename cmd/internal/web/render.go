package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const genericError = "An error occurred."

var pageNames = []string{"home", "login", "register", "about", "welcome", "secrets", "submit", "error"}

type pageData struct {
	Title         string
	Viewer        bool
	GoogleEnabled bool

	Secrets   []string
	MaxSecret int
	Message   string
}

type pages map[string]*template.Template

func parsePages() (pages, error) {
	out := make(pages, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("web: parse %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

func staticFiles() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

// render executes into a buffer first so a template failure still yields a
// clean 500.
func (h *Handler) render(w http.ResponseWriter, status int, name string, data pageData) {
	t, ok := h.pages[name]
	if !ok {
		h.log.Error("web.render.unknown", "page", name)
		http.Error(w, genericError, http.StatusInternalServerError)
		return
	}
	data.GoogleEnabled = h.google != nil

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.log.Error("web.render.fail", "page", name, "err", err)
		http.Error(w, genericError, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int) {
	h.render(w, status, "error", pageData{
		Title:   "Error",
		Viewer:  viewerFrom(r),
		Message: genericError,
	})
}
