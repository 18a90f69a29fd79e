package esp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"esp-translator/internal/strtable"
)

// defaultLanguage is used when the caller passes an empty language.
const defaultLanguage = "english"

// StringsBundle holds the up-to-three companion string tables for one plugin
// and one language. Tables that do not exist on disk stay nil; editing a
// localized string whose table is nil is a *MissingStringsFileError.
type StringsBundle struct {
	tables   [strtable.KindCount]*strtable.File
	baseName string
	language string
}

// Table returns the loaded table for kind, or nil when its file was absent.
func (b *StringsBundle) Table(kind strtable.Kind) *strtable.File {
	return b.tables[kind]
}

// loadStringsBundle reads every companion table that exists for the plugin
// under <workspaceRoot>/Data/Strings, named <stem>_<language>.<ext>.
func loadStringsBundle(pluginPath, workspaceRoot, language string) (*StringsBundle, error) {
	baseName := strings.TrimSuffix(filepath.Base(pluginPath), filepath.Ext(pluginPath))
	if baseName == "" {
		return nil, ErrInvalidStringsPath
	}
	if language == "" {
		language = defaultLanguage
	}
	language = strings.ToLower(language)

	bundle := &StringsBundle{baseName: baseName, language: language}
	stringsDir := filepath.Join(workspaceRoot, "Data", "Strings")
	for kind := strtable.KindStrings; kind < strtable.KindCount; kind++ {
		path := filepath.Join(stringsDir, companionName(baseName, language, kind))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read strings file: %w", err)
		}
		file, err := strtable.Read(kind, data)
		if err != nil {
			return nil, err
		}
		bundle.tables[kind] = file
	}
	return bundle, nil
}

// writeStringsBundle rewrites every loaded table back under
// <workspaceRoot>/Data/Strings.
func writeStringsBundle(bundle *StringsBundle, workspaceRoot string) error {
	stringsDir := filepath.Join(workspaceRoot, "Data", "Strings")
	if err := os.MkdirAll(stringsDir, 0755); err != nil {
		return fmt.Errorf("create strings directory: %w", err)
	}
	for kind := strtable.KindStrings; kind < strtable.KindCount; kind++ {
		file := bundle.tables[kind]
		if file == nil {
			continue
		}
		data, err := strtable.Write(kind, file)
		if err != nil {
			return err
		}
		path := filepath.Join(stringsDir, companionName(bundle.baseName, bundle.language, kind))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write strings file: %w", err)
		}
	}
	return nil
}

func companionName(baseName, language string, kind strtable.Kind) string {
	return fmt.Sprintf("%s_%s.%s", baseName, language, kind.Extension())
}

// CompanionPaths returns the three companion table paths for a plugin,
// whether or not the files exist. Callers use this to back up tables before
// ApplyTranslations rewrites them in place.
func CompanionPaths(pluginPath, workspaceRoot, language string) []string {
	baseName := strings.TrimSuffix(filepath.Base(pluginPath), filepath.Ext(pluginPath))
	if language == "" {
		language = defaultLanguage
	}
	language = strings.ToLower(language)
	stringsDir := filepath.Join(workspaceRoot, "Data", "Strings")
	paths := make([]string, 0, strtable.KindCount)
	for kind := strtable.KindStrings; kind < strtable.KindCount; kind++ {
		paths = append(paths, filepath.Join(stringsDir, companionName(baseName, language, kind)))
	}
	return paths
}

// setString mutates the text of entry id in the bundle's table for kind.
func (b *StringsBundle) setString(kind strtable.Kind, id uint32, text string) error {
	file := b.tables[kind]
	if file == nil {
		return &MissingStringsFileError{Kind: kind}
	}
	for i := range file.Entries {
		if file.Entries[i].ID == id {
			file.Entries[i].Text = text
			return nil
		}
	}
	return &MissingStringIDError{ID: id}
}

// stringTableIndex is the merged id→text lookup built once per codec call
// from a loaded bundle. It is plain data passed by reference through the
// traversal, never shared between calls, so independent plugins can be
// processed concurrently.
type stringTableIndex struct {
	maps [strtable.KindCount]map[uint32]string
}

func newStringTableIndex(bundle *StringsBundle) *stringTableIndex {
	idx := &stringTableIndex{}
	for kind := strtable.KindStrings; kind < strtable.KindCount; kind++ {
		file := bundle.tables[kind]
		if file == nil {
			continue
		}
		m := make(map[uint32]string, len(file.Entries))
		for _, e := range file.Entries {
			m[e.ID] = e.Text
		}
		idx.maps[kind] = m
	}
	return idx
}

// lookup tries the tables in fixed priority order (strings, dlstrings,
// ilstrings) and returns the first hit with its kind.
func (idx *stringTableIndex) lookup(id uint32) (strtable.Kind, string, bool) {
	for kind := strtable.KindStrings; kind < strtable.KindCount; kind++ {
		if text, ok := idx.maps[kind][id]; ok {
			return kind, text, true
		}
	}
	return 0, "", false
}
