// Package views renders the server-side HTML pages.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/bengobox/oauth2-provider/internal/store"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names.
const (
	PageHome    = "home.html"
	PageLogin   = "login.html"
	PageConsent = "consent.html"
	PageError   = "error.html"
)

// HomeData backs the signed-in home page.
type HomeData struct {
	User    *store.User
	Clients []store.Client
	Message string
	Error   string
}

// LoginData backs the sign-in and registration page.
type LoginData struct {
	Continue      string
	GoogleEnabled bool
	Message       string
	Error         string
}

// ConsentData backs the authorization consent page.
type ConsentData struct {
	User       *store.User
	ClientName string
	ClientURI  string
	Scopes     []string
	Action     string
}

// ErrorData backs the error page.
type ErrorData struct {
	Title       string
	Code        string
	Description string
}

// Renderer renders pages from the embedded templates.
type Renderer struct {
	pages  map[string]*template.Template
	logger *zap.Logger
}

// New parses every page against the shared layout.
func New(logger *zap.Logger) (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template), logger: logger}
	for _, page := range []string{PageHome, PageLogin, PageConsent, PageError} {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		r.pages[page] = tmpl
	}
	return r, nil
}

// Render writes page with status. The page is rendered to a buffer first so
// a template failure still produces a clean 500.
func (v *Renderer) Render(w http.ResponseWriter, status int, page string, data any) {
	tmpl, ok := v.pages[page]
	if !ok {
		v.logger.Error("unknown page", zap.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		v.logger.Error("render page", zap.String("page", page), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Frame-Options", "DENY")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
