package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes merges the files listed in cfg.Includes into cfg, relative
// to baseDir. visited holds absolute paths already merged on this chain.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}

	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			visited[abs] = true

			if err := mergeFile(cfg, abs, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveIncludePaths expands pattern relative to baseDir. Relative patterns
// may not climb out of baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) > 0 {
		return matches, nil
	}
	// A literal path that does not exist is reported by mergeFile; an empty
	// glob is fine.
	if strings.ContainsAny(pattern, "*?[") {
		return nil, nil
	}
	return []string{pattern}, nil
}

// mergeFile overlays the YAML at path onto cfg, following its own includes.
func mergeFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth)
	}
	return nil
}
