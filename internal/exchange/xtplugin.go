package exchange

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"esp-translator/internal/strtable"
)

// PluginEntry is one line of an XTPLUGIN1 exchange file: a string-table id
// with the human context it appears under and its source text.
type PluginEntry struct {
	ID         uint32
	Context    string
	SourceText string
}

// PluginFile is a parsed XTPLUGIN1 exchange file.
type PluginFile struct {
	Entries []PluginEntry
}

const pluginHeader = "XTPLUGIN1"

var (
	ErrPluginInvalidHeader = errors.New("exchange: invalid plugin header")
	ErrPluginInvalidLine   = errors.New("exchange: invalid plugin line")
	ErrPluginInvalidID     = errors.New("exchange: invalid plugin id")
	ErrPluginInvalidField  = errors.New("exchange: plugin field contains separator")
)

// DuplicateIDError reports two plugin entries sharing an id on write.
type DuplicateIDError struct {
	ID uint32
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("exchange: duplicate plugin id %d", e.ID)
}

// ReadPlugin parses an XTPLUGIN1 document: a header line followed by
// id|context|source lines. Blank lines are skipped; context and source may
// contain further pipes only in the last field.
func ReadPlugin(input string) (*PluginFile, error) {
	lines := strings.Split(input, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != pluginHeader {
		return nil, ErrPluginInvalidHeader
	}

	var entries []PluginEntry
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			return nil, ErrPluginInvalidLine
		}
		id, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, ErrPluginInvalidID
		}
		entries = append(entries, PluginEntry{
			ID:         uint32(id),
			Context:    parts[1],
			SourceText: parts[2],
		})
	}
	return &PluginFile{Entries: entries}, nil
}

// WritePlugin encodes entries in ascending id order. Duplicate ids are a
// *DuplicateIDError; a pipe inside context or source is rejected since it
// would corrupt the line format.
func WritePlugin(f *PluginFile) (string, error) {
	entries := make([]PluginEntry, len(f.Entries))
	copy(entries, f.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ID == entries[i].ID {
			return "", &DuplicateIDError{ID: entries[i].ID}
		}
	}

	var out strings.Builder
	out.WriteString(pluginHeader + "\n")
	for _, e := range entries {
		if strings.ContainsRune(e.Context, '|') || strings.ContainsRune(e.SourceText, '|') {
			return "", ErrPluginInvalidField
		}
		fmt.Fprintf(&out, "%d|%s|%s\n", e.ID, e.Context, e.SourceText)
	}
	return out.String(), nil
}

// HybridEntry joins a plugin exchange entry with the translated text a
// strings table holds for the same id.
type HybridEntry struct {
	ID         uint32
	Context    string
	TargetText string
}

// BuildHybrid matches plugin entries against a strings table by id, keeping
// only ids present in both.
func BuildHybrid(plugin *PluginFile, table *strtable.File) []HybridEntry {
	targets := make(map[uint32]string, len(table.Entries))
	for _, e := range table.Entries {
		targets[e.ID] = e.Text
	}

	var entries []HybridEntry
	for _, e := range plugin.Entries {
		if target, ok := targets[e.ID]; ok {
			entries = append(entries, HybridEntry{
				ID:         e.ID,
				Context:    e.Context,
				TargetText: target,
			})
		}
	}
	return entries
}
