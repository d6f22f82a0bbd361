// Package template implements the `%{var}` textual substitution
// templates the reconciler renders into Kubernetes manifests and
// OpenSearch config files. It deliberately does not use text/template:
// literal `%{name}` placeholders, not Go template actions, keep
// template files valid YAML (or plain text) on their own, lint-checkable
// independently of this package.
package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"
)

var placeholderPattern = regexp.MustCompile(`%\{([A-Za-z0-9_.]+)\}`)

// Renderer holds the set of templates loaded from a directory at
// startup, keyed by file name without extension. Templates are mounted
// from a ConfigMap in practice, so the set can change underneath a
// running process; WatchForChanges keeps it current without a restart.
type Renderer struct {
	dir string

	mu        sync.RWMutex
	templates map[string]string
}

// Load reads every file directly under dir into memory. Subdirectories
// are not walked: templates live in a flat directory.
func Load(dir string) (*Renderer, error) {
	templates, err := loadDir(dir)
	if err != nil {
		return nil, err
	}
	return &Renderer{dir: dir, templates: templates}, nil
}

func loadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading template directory %q: %w", dir, err)
	}

	templates := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading template %q: %w", path, err)
		}
		key := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		templates[key] = string(body)
	}

	return templates, nil
}

// Reload re-reads dir and atomically swaps in the new template set. A
// read error leaves the previously loaded templates in place so a
// transient ConfigMap remount never leaves the renderer empty.
func (r *Renderer) Reload() error {
	templates, err := loadDir(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = templates
	r.mu.Unlock()
	return nil
}

// WatchForChanges watches dir with fsnotify and calls Reload whenever a
// file underneath it is written, created, or renamed (the rename case
// covers how Kubernetes atomically remounts a ConfigMap volume: it
// swaps a symlink, which fsnotify reports as a rename of the watched
// directory's entry). It runs until ctx is canceled.
func (r *Renderer) WatchForChanges(ctx context.Context, log logr.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template directory watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watching template directory %q: %w", r.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				log.Error(err, "reloading templates after directory change", "dir", r.dir)
				continue
			}
			log.Info("reloaded templates", "dir", r.dir, "event", event.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "template directory watcher error", "dir", r.dir)
		}
	}
}

// Variables returns the set of `%{name}` placeholders referenced by the
// named template, used by callers to validate a variable map up front
// rather than discovering a missing key mid-render.
func (r *Renderer) Variables(name string) ([]string, error) {
	r.mu.RLock()
	body, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template %q not loaded from %q", name, r.dir)
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out, nil
}

// Render substitutes every `%{name}` occurrence in the named template
// with vars[name] and returns the resulting text. A placeholder with no
// entry in vars is a fatal error naming exactly which variable is
// missing, matching the "missing template variable" error
// taxonomy entry.
func (r *Renderer) Render(name string, vars map[string]string) (string, error) {
	r.mu.RLock()
	body, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not loaded from %q", name, r.dir)
	}

	var missing []string
	rendered := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		val, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template %q is missing variable(s): %s", name, strings.Join(missing, ", "))
	}
	return rendered, nil
}

// RenderYAML renders the named template and decodes the result as YAML
// into out, via sigs.k8s.io/yaml so the same JSON struct tags used for
// the Kubernetes API types decode manifests rendered as YAML.
func (r *Renderer) RenderYAML(name string, vars map[string]string, out interface{}) error {
	rendered, err := r.Render(name, vars)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(rendered), out); err != nil {
		return fmt.Errorf("parsing rendered template %q as YAML: %w", name, err)
	}
	return nil
}
