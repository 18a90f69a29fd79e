package esp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"esp-translator/internal/textutil"
)

// ExtractStrings reads a plugin and its companion string tables and returns
// every translatable string in the tree, inline or localized. Read-only.
func ExtractStrings(pluginPath, workspaceRoot, language string) ([]ExtractedString, error) {
	data, err := os.ReadFile(pluginPath)
	if err != nil {
		return nil, fmt.Errorf("read plugin: %w", err)
	}
	bundle, err := loadStringsBundle(pluginPath, workspaceRoot, language)
	if err != nil {
		return nil, err
	}
	index := newStringTableIndex(bundle)
	blocks, err := ParsePlugin(data)
	if err != nil {
		return nil, err
	}

	var results []ExtractedString
	walkRecords(blocks, func(record *Record) error {
		collectStrings(record, index, &results)
		return nil
	})
	return results, nil
}

// ApplyTranslations rewrites a plugin with the edited strings, writing the
// result into outputDir under the input's file name and rewriting any touched
// companion tables in place under workspaceRoot/Data/Strings. Nothing is
// written until the whole traversal has succeeded; any failure aborts before
// bytes are persisted. Returns the output plugin path.
func ApplyTranslations(inputPath, workspaceRoot, outputDir string, edits []ExtractedString, language string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("read plugin: %w", err)
	}
	bundle, err := loadStringsBundle(inputPath, workspaceRoot, language)
	if err != nil {
		return "", err
	}
	index := newStringTableIndex(bundle)
	blocks, err := ParsePlugin(data)
	if err != nil {
		return "", err
	}

	byKey := make(map[string]ExtractedString, len(edits))
	for _, edit := range edits {
		byKey[edit.Key] = edit
	}

	err = walkRecords(blocks, func(record *Record) error {
		return applyToRecord(record, bundle, index, byKey)
	})
	if err != nil {
		return "", err
	}

	output, err := SerializeBlocks(blocks)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, filepath.Base(inputPath))
	if err := os.WriteFile(outputPath, output, 0644); err != nil {
		return "", fmt.Errorf("write plugin: %w", err)
	}
	if err := writeStringsBundle(bundle, workspaceRoot); err != nil {
		return "", err
	}
	return outputPath, nil
}

// walkRecords visits every record in the tree in document order, using an
// explicit stack so nesting depth is bounded by memory, not the call stack.
// Extraction and application share this traversal; the per-record ordinal
// keys depend on both sides walking in the same order.
func walkRecords(blocks []Block, visit func(*Record) error) error {
	stack := make([]Block, 0, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		stack = append(stack, blocks[i])
	}
	for len(stack) > 0 {
		block := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch b := block.(type) {
		case *Record:
			if err := visit(b); err != nil {
				return err
			}
		case *Group:
			for i := len(b.Children) - 1; i >= 0; i-- {
				stack = append(stack, b.Children[i])
			}
		}
	}
	return nil
}

// collectStrings appends one ExtractedString per string-bearing subrecord
// that decodes as text, assigning the zero-based ordinal per record.
func collectStrings(record *Record, index *stringTableIndex, results *[]ExtractedString) {
	ordinal := 0
	for _, sub := range record.Subrecords {
		if !isStringSubrecord(sub.Type) {
			continue
		}
		text, storage, ok := decodeSubrecordString(sub.Data, index)
		if !ok {
			continue
		}
		*results = append(*results, ExtractedString{
			Key:           stringKey(record.Header.Type, record.Header.FormID, sub.Type, ordinal),
			RecordType:    record.Header.Type,
			SubrecordType: sub.Type,
			FormID:        record.Header.FormID,
			Index:         ordinal,
			Text:          text,
			Storage:       storage,
		})
		ordinal++
	}
}

// applyToRecord re-runs the extraction ordering over one record and applies
// any matching edits: inline payloads are re-encoded in place, localized ids
// mutate the bundle entry instead. Each subrecord is decoded the same way
// collectStrings decodes it, so the recomputed ordinals and keys line up with
// the extraction that produced the edits.
func applyToRecord(record *Record, bundle *StringsBundle, index *stringTableIndex, edits map[string]ExtractedString) error {
	ordinal := 0
	for i := range record.Subrecords {
		sub := &record.Subrecords[i]
		if !isStringSubrecord(sub.Type) {
			continue
		}
		if _, _, ok := decodeSubrecordString(sub.Data, index); !ok {
			continue
		}
		key := stringKey(record.Header.Type, record.Header.FormID, sub.Type, ordinal)
		if edit, ok := edits[key]; ok {
			if edit.Storage.Localized {
				if err := bundle.setString(edit.Storage.Table, edit.Storage.ID, edit.Text); err != nil {
					return err
				}
			} else {
				nullTerminated := len(sub.Data) > 0 && sub.Data[len(sub.Data)-1] == 0
				sub.Data = encodeInlineString(edit.Text, nullTerminated)
			}
		}
		ordinal++
	}
	return nil
}

// decodeSubrecordString classifies a string-bearing payload. A 4-byte payload
// is first tried as a localized id against the merged tables; otherwise the
// bytes up to the first null are taken as inline UTF-8 text, rejected in full
// if empty, invalid, or failing the looks-like-text filter. A 4-byte inline
// value that happens to collide with a valid table id is indistinguishable
// from a localized reference; table lookup wins.
func decodeSubrecordString(data []byte, index *stringTableIndex) (string, StringStorage, bool) {
	if len(data) == 4 {
		id := binary.LittleEndian.Uint32(data)
		if kind, text, ok := index.lookup(id); ok {
			return text, StringStorage{Localized: true, Table: kind, ID: id}, true
		}
	}
	slice := data
	if i := bytes.IndexByte(data, 0); i >= 0 {
		slice = data[:i]
	}
	if len(slice) == 0 || !utf8.Valid(slice) {
		return "", StringStorage{}, false
	}
	text := string(slice)
	if !textutil.LooksLikeText(text) {
		return "", StringStorage{}, false
	}
	return text, StringStorage{}, true
}

// encodeInlineString converts edited text back to payload bytes, preserving
// whether the original payload carried a trailing null.
func encodeInlineString(text string, nullTerminated bool) []byte {
	out := make([]byte, 0, len(text)+1)
	out = append(out, text...)
	if nullTerminated {
		out = append(out, 0)
	}
	return out
}
