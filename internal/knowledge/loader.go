package knowledge

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/akmatori/nocpilot/internal/logging"
)

//go:embed defaults/*.yaml
var defaultRunbooks embed.FS

// runbookFile is the on-disk layout: a top-level runbooks list
type runbookFile struct {
	Runbooks []*Runbook `yaml:"runbooks"`
}

// ParseRunbooks decodes a runbook YAML document. Both a top-level list and a
// {runbooks: [...]} mapping are accepted.
func ParseRunbooks(data []byte) ([]*Runbook, error) {
	var file runbookFile
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Runbooks) > 0 {
		return file.Runbooks, validateAll(file.Runbooks)
	}

	var list []*Runbook
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse runbooks: %w", err)
	}
	return list, validateAll(list)
}

func validateAll(runbooks []*Runbook) error {
	seen := make(map[string]bool)
	for _, rb := range runbooks {
		if err := rb.Validate(); err != nil {
			return err
		}
		if seen[rb.ID] {
			return fmt.Errorf("duplicate runbook id %s", rb.ID)
		}
		seen[rb.ID] = true
	}
	return nil
}

// LoadDefaults adds the bundled runbooks
func (kb *KnowledgeBase) LoadDefaults(ctx context.Context) (int, error) {
	return kb.loadFS(ctx, defaultRunbooks, "defaults")
}

// LoadDir adds every *.yaml / *.yml runbook file found in dir
func (kb *KnowledgeBase) LoadDir(ctx context.Context, dir string) (int, error) {
	return kb.loadFS(ctx, os.DirFS(dir), ".")
}

func (kb *KnowledgeBase) loadFS(ctx context.Context, fsys fs.FS, root string) (int, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list runbook files: %w", err)
	}
	sort.Strings(files)

	count := 0
	for _, path := range files {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return count, fmt.Errorf("failed to read %s: %w", path, err)
		}
		runbooks, err := ParseRunbooks(data)
		if err != nil {
			return count, fmt.Errorf("%s: %w", path, err)
		}
		for _, rb := range runbooks {
			if err := kb.Add(ctx, rb); err != nil {
				return count, fmt.Errorf("%s: %w", path, err)
			}
			count++
		}
	}

	logging.Infof("KnowledgeBase: loaded %d runbooks from %d files", count, len(files))
	return count, nil
}
