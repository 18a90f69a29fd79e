package filewalker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// SupportedExtensions lists the plugin container extensions handled by the
// tool. The three differ only in load-order semantics, not layout.
var SupportedExtensions = map[string]bool{
	".esp": true,
	".esm": true,
	".esl": true,
}

// Walk discovers all plugin files under root. A root that is itself a plugin
// file is returned as-is, so single-file and directory invocations share one
// code path.
func Walk(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		if !SupportedExtensions[strings.ToLower(filepath.Ext(root))] {
			return nil, fmt.Errorf("not a plugin file: %s", root)
		}
		return []string{root}, nil
	}

	var paths []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Error walking path")
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if SupportedExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	log.Info().Int("count", len(paths)).Str("root", root).Msg("Discovered plugins")
	return paths, nil
}
