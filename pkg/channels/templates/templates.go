// Package templates holds YAML-defined formats for published posts.
//
// A template decides how a relayed signal or reply looks on the destination
// channel (header lines, attribution, footers) without touching Go code.
// Bodies are text/template strings rendered against Data.
//
// Template directories searched (in order):
//  1. ./templates/posts/    (relative to working directory)
//  2. ~/.relay/templates/posts/
//  3. Builtin templates compiled into the binary ("plain", "attributed")
package templates

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

// ─────────────────────────────────────────────────────────────────────────────
// Template schema
// ─────────────────────────────────────────────────────────────────────────────

// PostTemplate is the YAML schema for an outbound post format.
type PostTemplate struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Channel     string `yaml:"channel,omitempty"` // telegram | discord | slack | console; empty = any

	Signal string `yaml:"signal"` // body for new signals
	Reply  string `yaml:"reply"`  // body for threaded replies; falls back to Signal

	// Static values exposed to the bodies as .Params
	Params map[string]string `yaml:"params,omitempty"`

	// Source metadata (set by loader, not in YAML)
	SourceFile string `yaml:"-" json:"source_file,omitempty"`
	Builtin    bool   `yaml:"-" json:"builtin"`

	signalTmpl *template.Template
	replyTmpl  *template.Template
}

// Data is what a body is rendered against.
type Data struct {
	Content  string            // translated content, or the original when translation fell back
	Original string            // content as received
	Thread   string            // "chat:message" of the root signal
	SenderID string            // empty when the source did not identify a sender
	Kind     string            // "signal" or "update"
	Params   map[string]string // PostTemplate.Params
}

func (t *PostTemplate) compile() error {
	if strings.TrimSpace(t.Signal) == "" {
		t.Signal = "{{.Content}}"
	}
	st, err := template.New(t.Name + ".signal").Option("missingkey=zero").Parse(t.Signal)
	if err != nil {
		return fmt.Errorf("signal body: %w", err)
	}
	t.signalTmpl = st

	if strings.TrimSpace(t.Reply) == "" {
		t.replyTmpl = st
		return nil
	}
	rt, err := template.New(t.Name + ".reply").Option("missingkey=zero").Parse(t.Reply)
	if err != nil {
		return fmt.Errorf("reply body: %w", err)
	}
	t.replyTmpl = rt
	return nil
}

// Render formats content for the given record kind.
func (t *PostTemplate) Render(kind signal.Kind, data Data) (string, error) {
	if t.signalTmpl == nil {
		if err := t.compile(); err != nil {
			return "", err
		}
	}
	tmpl := t.signalTmpl
	if kind == signal.KindUpdate {
		tmpl = t.replyTmpl
	}
	data.Kind = kind.String()
	if data.Params == nil {
		data.Params = t.Params
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Builtins
// ─────────────────────────────────────────────────────────────────────────────

func builtins() []*PostTemplate {
	return []*PostTemplate{
		{
			Name:        "plain",
			Description: "Content only",
			Signal:      "{{.Content}}",
			Builtin:     true,
		},
		{
			Name:        "attributed",
			Description: "Content with a source footer",
			Signal:      "{{.Content}}\n\nvia {{if .Params.source}}{{.Params.source}}{{else}}relay{{end}} #{{.Thread}}",
			Reply:       "↳ {{.Content}}",
			Builtin:     true,
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// Registry is a thread-safe store of loaded post templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*PostTemplate
}

// NewRegistry creates a registry holding the builtin templates.
func NewRegistry() *Registry {
	r := &Registry{
		templates: make(map[string]*PostTemplate),
	}
	for _, t := range builtins() {
		if err := r.Register(t); err != nil {
			panic(fmt.Sprintf("builtin template %s: %v", t.Name, err))
		}
	}
	return r
}

// Load reads all *.yaml files from dir and registers them.
// Errors in individual files are collected but don't abort loading.
func (r *Registry) Load(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("cannot read template dir %s: %w", dir, err)}
	}

	loaded := 0
	var errs []error

	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		tmpl, err := LoadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", e.Name(), err))
			continue
		}
		if err := r.Register(tmpl); err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", e.Name(), err))
			continue
		}
		loaded++
	}

	return loaded, errs
}

// LoadFile parses a single YAML template file.
func LoadFile(path string) (*PostTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tmpl PostTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if tmpl.Name == "" {
		return nil, fmt.Errorf("template at %s has no 'name' field", path)
	}
	tmpl.SourceFile = path
	return &tmpl, nil
}

// Register compiles and adds or replaces a template in the registry.
func (r *Registry) Register(tmpl *PostTemplate) error {
	if err := tmpl.compile(); err != nil {
		return fmt.Errorf("template '%s': %w", tmpl.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.Name] = tmpl
	return nil
}

// Get retrieves a template by name.
func (r *Registry) Get(name string) (*PostTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// List returns all registered templates, sorted by name.
func (r *Registry) List() []*PostTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PostTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// ─────────────────────────────────────────────────────────────────────────────
// Auto-load from standard directories
// ─────────────────────────────────────────────────────────────────────────────

// LoadDefaults loads templates from the standard locations plus extra dirs
// into r and returns the number loaded and any warnings.
func (r *Registry) LoadDefaults(extra ...string) (int, []string) {
	dirs := append([]string{"templates/posts"}, extra...)
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".relay", "templates", "posts"))
	}

	total := 0
	var warnings []string

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		n, errs := r.Load(dir)
		total += n
		for _, e := range errs {
			warnings = append(warnings, e.Error())
		}
	}

	return total, warnings
}
