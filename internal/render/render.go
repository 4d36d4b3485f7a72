// Package render produces the HTML pages shown while a backend wakes up.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/MrSnakeDoc/wakegate/internal/logger"
)

const DefaultTemplate = "default"

//go:embed templates/default.html
var embedded embed.FS

// ErrInvalidName is returned for template names that could escape the templates directory.
var ErrInvalidName = errors.New("invalid template name")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Page is the data every template receives.
type Page struct {
	ServiceName string
	ServiceURL  string
	Message     string
	State       string
	RetryAfter  int // seconds, 0 disables the meta refresh
}

// Renderer looks templates up as <dir>/<name>.html and falls back to default.html.
// A default.html in dir overrides the built-in one.
type Renderer struct {
	dir    string
	logger logger.Logger
	def    *template.Template

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// New parses the default template. An empty dir only serves the built-in page.
func New(dir string, log logger.Logger) (*Renderer, error) {
	r := &Renderer{
		dir:    dir,
		logger: log,
		cache:  make(map[string]*template.Template),
	}

	def, err := r.parseFile(DefaultTemplate)
	switch {
	case err == nil:
		log.Info("using default template from templates dir", logger.String("dir", dir))
	case errors.Is(err, os.ErrNotExist):
		def, err = template.ParseFS(embedded, "templates/default.html")
		if err != nil {
			return nil, fmt.Errorf("parse embedded default template: %w", err)
		}
	default:
		return nil, err
	}
	r.def = def

	return r, nil
}

// Has reports whether a dedicated template exists for name.
func (r *Renderer) Has(name string) bool {
	_, err := r.lookup(name)
	return err == nil
}

// Render writes the page for name, or the default page when name has no template.
func (r *Renderer) Render(w io.Writer, name string, page Page) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tmpl, err := r.lookup(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("template unusable, falling back to default",
				logger.String("template", name),
				logger.Error(err))
		}
		tmpl = r.def
	}

	// Render into a buffer so a failing template never leaves a half-written response.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, page); err != nil {
		return fmt.Errorf("execute template %s: %w", name, err)
	}
	_, err = buf.WriteTo(w)
	return err
}

func (r *Renderer) lookup(name string) (*template.Template, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if name == DefaultTemplate {
		return r.def, nil
	}

	r.mu.RLock()
	tmpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := r.parseFile(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[name] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

func (r *Renderer) parseFile(name string) (*template.Template, error) {
	if r.dir == "" {
		return nil, os.ErrNotExist
	}
	path := filepath.Join(r.dir, name+".html")
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	return tmpl, nil
}
