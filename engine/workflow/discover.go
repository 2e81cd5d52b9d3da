package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"

	"github.com/runloom/runloom/pkg/logger"
)

var ErrDefinitionNotFound = errors.New("workflow definition not found")

// definitionGlob matches workflow documents anywhere under a scan root.
const definitionGlob = "**/*.{yaml,yml}"

// Discover scans a directory tree for workflow definition documents, decodes
// and validates each one, and returns them sorted by id. Files that fail to
// decode are reported and skipped so one broken file does not hide the rest.
func Discover(ctx context.Context, root string, scope Scope) ([]*Definition, error) {
	log := logger.FromContext(ctx)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning workflow dir %s: %w", root, err)
	}
	matches, err := doublestar.Glob(os.DirFS(root), definitionGlob)
	if err != nil {
		return nil, fmt.Errorf("globbing workflow dir %s: %w", root, err)
	}
	sort.Strings(matches)
	defs := make([]*Definition, 0, len(matches))
	for _, rel := range matches {
		path := filepath.Join(root, rel)
		def, err := loadDefinition(path, scope)
		if err != nil {
			log.Warn("Skipping unreadable workflow definition", "path", path, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func loadDefinition(path string, scope Scope) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	def.filePath = path
	if def.Scope == "" {
		def.Scope = scope
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadInto discovers definitions under root and registers them. Duplicate
// ids within the scan are an error; re-running with changed files updates
// entries in place.
func LoadInto(ctx context.Context, reg *Registry, root string, scope Scope) (int, error) {
	defs, err := Discover(ctx, root, scope)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]string, len(defs))
	for _, def := range defs {
		if prev, ok := seen[def.ID]; ok {
			return 0, fmt.Errorf(
				"duplicate workflow definition %q (from %s and %s)",
				def.ID, prev, def.FilePath(),
			)
		}
		seen[def.ID] = def.FilePath()
	}
	reg.replaceScope(scope, defs)
	logger.FromContext(ctx).Info("Loaded workflow definitions", "root", root, "scope", scope, "count", len(defs))
	return len(defs), nil
}

// Rescan reloads one scope from disk, replacing its previous entries.
func Rescan(ctx context.Context, reg *Registry, root string, scope Scope) (int, error) {
	return LoadInto(ctx, reg, root, scope)
}
