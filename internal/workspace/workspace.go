// Package workspace handles the on-disk workspace definition, the resolution
// of a workspace root from a plugin path, and backup rotation before files
// are overwritten.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Game identifies which title a workspace targets. It only affects defaults
// the editor layer cares about; the codec treats all of them identically.
type Game string

const (
	GameSkyrim    Game = "skyrim"
	GameSkyrimSE  Game = "skyrimse"
	GameFallout4  Game = "fallout4"
	GameStarfield Game = "starfield"
)

func (g Game) valid() bool {
	switch g {
	case GameSkyrim, GameSkyrimSE, GameFallout4, GameStarfield:
		return true
	}
	return false
}

// CachePolicy controls whether derived data may be cached under CacheDir.
type CachePolicy string

const (
	CacheAuto CachePolicy = "auto"
	CacheNone CachePolicy = "none"
)

// currentVersion is the workspace file format version this build writes.
const currentVersion = 1

// Workspace is the persistent definition of one translation workspace.
type Workspace struct {
	Version      int         `yaml:"version"`
	Name         string      `yaml:"name"`
	Game         Game        `yaml:"game"`
	RootDir      string      `yaml:"root_dir"`
	StringsFiles []string    `yaml:"strings_files,omitempty"`
	LoadOrder    []string    `yaml:"load_order,omitempty"`
	CacheDir     string      `yaml:"cache_dir,omitempty"`
	CachePolicy  CachePolicy `yaml:"cache_policy,omitempty"`
}

// Load reads and validates a workspace definition file.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspace file: %w", err)
	}
	var ws Workspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse workspace file: %w", err)
	}
	if ws.Version != currentVersion {
		return nil, fmt.Errorf("unsupported workspace version %d", ws.Version)
	}
	if ws.Name == "" {
		return nil, fmt.Errorf("workspace file missing name")
	}
	if !ws.Game.valid() {
		return nil, fmt.Errorf("unknown game %q", ws.Game)
	}
	if ws.RootDir == "" {
		return nil, fmt.Errorf("workspace file missing root_dir")
	}
	if ws.CachePolicy == "" {
		ws.CachePolicy = CacheAuto
	}
	return &ws, nil
}

// Save validates and writes the workspace definition, stamping the current
// format version.
func (w *Workspace) Save(path string) error {
	w.Version = currentVersion
	if w.Name == "" {
		return fmt.Errorf("workspace missing name")
	}
	if !w.Game.valid() {
		return fmt.Errorf("unknown game %q", w.Game)
	}
	if w.RootDir == "" {
		return fmt.Errorf("workspace missing root_dir")
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode workspace file: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write workspace file: %w", err)
	}
	return nil
}

// RootFromPlugin derives the workspace root for a plugin path: the plugin's
// parent directory, or its grandparent when the parent is literally named
// "Data" (the layout companion string tables are resolved against).
func RootFromPlugin(pluginPath string) string {
	parent := filepath.Dir(pluginPath)
	if strings.EqualFold(filepath.Base(parent), "Data") {
		if root := filepath.Dir(parent); root != "" {
			return root
		}
	}
	return parent
}

// EnsureBackup copies an existing file to the next free backup name before it
// is overwritten. A missing file needs no backup.
func EnsureBackup(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	backup := NextBackupPath(path)
	if err := copyFile(path, backup); err != nil {
		return fmt.Errorf("backup %s -> %s: %w", path, backup, err)
	}
	return nil
}

// NextBackupPath picks the first unused backup name beside path: stem.bak.ext,
// stem.bak1.ext, ... keeping the original extension so tools still recognize
// the file type.
func NextBackupPath(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parent := filepath.Dir(path)

	for i := 0; i < 1000; i++ {
		suffix := ".bak"
		if i > 0 {
			suffix = fmt.Sprintf(".bak%d", i)
		}
		name := stem + suffix
		if ext != "" {
			name += "." + ext
		}
		candidate := filepath.Join(parent, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}

	name := stem + ".bak999"
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(parent, name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
