package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store loads and persists agent documents. Save must replace the whole
// document atomically so a crash leaves either the old or the new version.
type Store interface {
	Load(ctx context.Context, agent string) (*Document, error)
	Save(ctx context.Context, agent string, doc *Document) error
}

// Format selects the on-disk encoding of a master document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown content format %q (must be json or yaml)", s)
	}
}

// masterSuffix is appended to the agent name to form the document filename.
const masterSuffix = "_master"

var extensions = []string{".json", ".yaml", ".yml"}

// FileStore keeps one master document per agent at
// <dir>/<agent>/<agent>_master.<ext>.
type FileStore struct {
	dir    string
	format Format

	mu sync.Mutex
}

// NewFileStore creates a store rooted at dir. New documents are written in
// the given format; existing documents keep whatever format they were found in.
func NewFileStore(dir string, format Format) *FileStore {
	if format == "" {
		format = FormatJSON
	}
	return &FileStore{dir: dir, format: format}
}

// Dir returns the root content directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the document path for an agent, preferring an existing file.
func (s *FileStore) Path(agent string) string {
	for _, ext := range extensions {
		p := s.pathWithExt(agent, ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return s.pathWithExt(agent, "."+string(s.format))
}

func (s *FileStore) pathWithExt(agent, ext string) string {
	return filepath.Join(s.dir, agent, agent+masterSuffix+ext)
}

// Load reads and validates an agent document.
func (s *FileStore) Load(ctx context.Context, agent string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAgentName(agent); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(agent)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: agent %q (%s)", ErrNotFound, agent, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	raw, err := decode(formatOf(path), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	doc, err := decodeTree(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save rewrites the agent document through a temp file and rename.
func (s *FileStore) Save(ctx context.Context, agent string, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAgentName(agent); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("save %s: nil document", agent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(agent)
	tree, err := doc.encodeTree()
	if err != nil {
		return fmt.Errorf("save %s: %w", agent, err)
	}
	data, err := encode(formatOf(path), tree)
	if err != nil {
		return fmt.Errorf("save %s: %w", agent, err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// Create writes a new document and fails if the agent already exists.
func (s *FileStore) Create(ctx context.Context, agent string, doc *Document) error {
	if err := validateAgentName(agent); err != nil {
		return err
	}
	for _, ext := range extensions {
		if _, err := os.Stat(s.pathWithExt(agent, ext)); err == nil {
			return fmt.Errorf("agent %q already exists", agent)
		}
	}
	return s.Save(ctx, agent, doc)
}

// List returns the agents with a master document under the content dir.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read content dir: %w", err)
	}

	var agents []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		for _, ext := range extensions {
			if _, err := os.Stat(s.pathWithExt(e.Name(), ext)); err == nil {
				agents = append(agents, e.Name())
				break
			}
		}
	}
	sort.Strings(agents)
	return agents, nil
}

func validateAgentName(agent string) error {
	if strings.TrimSpace(agent) == "" {
		return errors.New("agent name is required")
	}
	if strings.ContainsAny(agent, `/\`) || agent == "." || agent == ".." {
		return fmt.Errorf("invalid agent name %q", agent)
	}
	return nil
}

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func decode(format Format, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := unmarshalJSON(data, &raw); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		return nil, errors.New("empty document")
	}
	return raw, nil
}

func encode(format Format, tree map[string]any) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(yamlNumbers(tree))
	default:
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

// yamlNumbers replaces json.Number leaves, which yaml.v3 would emit as
// quoted strings, with int64 or float64 values. The tree is modified in place.
func yamlNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = yamlNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = yamlNumbers(e)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

// writeFileAtomic writes data to a sibling temp file, syncs it and renames it
// over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
