// Package render parses the storefront's html/template files and executes pages and fragments.
// Every page is parsed into its own set together with the layouts and partials, so each page may
// define "content" independently.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

//go:embed templates
var embedded embed.FS

const (
	baseTemplate = "base"
	layoutGlob   = "layouts/*.tmpl"
	partialGlob  = "partials/*.tmpl"
	pageDir      = "pages"
)

// Option customises a Renderer.
type Option func(*Renderer)

// WithDir reads templates from dir on disk and reparses them on every render.
func WithDir(dir string) Option {
	return func(r *Renderer) {
		if strings.TrimSpace(dir) == "" {
			return
		}
		r.fsys = os.DirFS(dir)
		r.reload = true
	}
}

// WithFS reads templates from fsys, parsed once.
func WithFS(fsys fs.FS) Option {
	return func(r *Renderer) {
		if fsys != nil {
			r.fsys = fsys
		}
	}
}

// Renderer executes named pages and fragments.
type Renderer struct {
	fsys   fs.FS
	funcs  template.FuncMap
	reload bool

	mu  sync.RWMutex
	set *templateSet
}

type templateSet struct {
	pages map[string]*template.Template
	frags *template.Template
}

// New parses the templates compiled into the binary unless an option points elsewhere.
func New(funcs template.FuncMap, opts ...Option) (*Renderer, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	r := &Renderer{fsys: sub, funcs: funcs}
	for _, opt := range opts {
		opt(r)
	}
	set, err := r.parse()
	if err != nil {
		return nil, err
	}
	r.set = set
	return r, nil
}

func (r *Renderer) parse() (*templateSet, error) {
	shared, err := template.New("_root").Funcs(r.funcs).ParseFS(r.fsys, layoutGlob, partialGlob)
	if err != nil {
		return nil, fmt.Errorf("render: parse shared templates: %w", err)
	}
	files, err := fs.Glob(r.fsys, path.Join(pageDir, "*.tmpl"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("render: no pages found")
	}
	set := &templateSet{pages: make(map[string]*template.Template, len(files)), frags: shared}
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".tmpl")
		clone, err := shared.Clone()
		if err != nil {
			return nil, err
		}
		page, err := clone.ParseFS(r.fsys, file)
		if err != nil {
			return nil, fmt.Errorf("render: parse page %s: %w", name, err)
		}
		set.pages[name] = page
	}
	return set, nil
}

func (r *Renderer) current() (*templateSet, error) {
	if r.reload {
		return r.parse()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set, nil
}

// Page executes the base layout with page name's "content".
func (r *Renderer) Page(w io.Writer, name string, data any) error {
	set, err := r.current()
	if err != nil {
		return err
	}
	t, ok := set.pages[name]
	if !ok {
		return fmt.Errorf("render: unknown page %q", name)
	}
	return execute(w, t, baseTemplate, data)
}

// Fragment executes a template defined in the partials.
func (r *Renderer) Fragment(w io.Writer, name string, data any) error {
	set, err := r.current()
	if err != nil {
		return err
	}
	if set.frags.Lookup(name) == nil {
		return fmt.Errorf("render: unknown fragment %q", name)
	}
	return execute(w, set.frags, name, data)
}

// Pages lists the known page names.
func (r *Renderer) Pages() []string {
	set, err := r.current()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(set.pages))
	for name := range set.pages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// execute buffers output so a failing template never leaves a half-written response.
func execute(w io.Writer, t *template.Template, name string, data any) error {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render: execute %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
