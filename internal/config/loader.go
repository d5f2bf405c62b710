package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// includeAliases are the accepted spellings of the include directive, in
// lookup order.
var includeAliases = []string{includeKey, "include"}

var errMultiDoc = errors.New("expected a single YAML document")

// LoadRaw reads a configuration file into a merged raw map. Files ending in
// .json or .json5 are parsed as JSON5, anything else as YAML. A top-level
// $include (string or list) names files merged underneath the including one.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{active: make(map[string]struct{})}
	return l.load(path)
}

// rawLoader tracks the include chain currently being resolved.
type rawLoader struct {
	active map[string]struct{}
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, busy := l.active[abs]; busy {
		return nil, fmt.Errorf("config include cycle at %s", abs)
	}
	l.active[abs] = struct{}{}
	defer delete(l.active, abs)

	doc, err := readDocument(abs)
	if err != nil {
		return nil, err
	}
	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	out := make(map[string]any)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		overlay(out, sub)
	}
	overlay(out, doc)
	return out, nil
}

// readDocument reads one file with environment references expanded.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = []byte(expandEnv(string(data)))

	doc := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		err = json5.Unmarshal(data, &doc)
	default:
		err = decodeYAML(data, &doc, false)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

// expandEnv substitutes $VAR and ${VAR}; ${VAR:-fallback} uses fallback when
// VAR is unset or empty. $include is left alone and $$ yields a literal $.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		switch ref {
		case "include":
			return includeKey
		case "$":
			return "$"
		}
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		v := os.Getenv(name)
		if v == "" && hasFallback {
			return fallback
		}
		return v
	})
}

// takeIncludes removes the include directive from doc and returns its paths.
// Both spellings in one document are rejected.
func takeIncludes(doc map[string]any) ([]string, error) {
	var (
		found string
		value any
	)
	for _, key := range includeAliases {
		v, ok := doc[key]
		if !ok {
			continue
		}
		if found != "" {
			return nil, fmt.Errorf("both %s and %s are set", found, key)
		}
		found, value = key, v
		delete(doc, key)
	}
	return includeList(value)
}

func includeList(v any) ([]string, error) {
	var entries []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{t}
	case []any:
		entries = t
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%s entries must be strings, got %T", includeKey, e)
		}
		if s = strings.TrimSpace(s); s != "" {
			paths = append(paths, s)
		}
	}
	return paths, nil
}

// overlay copies src into dst, descending into nested maps present on both sides.
func overlay(dst, src map[string]any) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				overlay(dm, sm)
				continue
			}
		}
		dst[k] = sv
	}
}

func decodeYAML(data []byte, out any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errMultiDoc
	}
	return nil
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	var cfg Config
	if err := decodeYAML(payload, &cfg, true); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
