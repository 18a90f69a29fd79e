package esp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"esp-translator/internal/strtable"
)

// writePluginFixture writes record bytes to <dir>/<name> and returns the path.
func writePluginFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write plugin fixture: %v", err)
	}
	return path
}

// writeStringsFixture writes a companion table under <root>/Data/Strings.
func writeStringsFixture(t *testing.T, root, baseName, language string, kind strtable.Kind, file *strtable.File) string {
	t.Helper()
	dir := filepath.Join(root, "Data", "Strings")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create strings dir: %v", err)
	}
	data, err := strtable.Write(kind, file)
	if err != nil {
		t.Fatalf("encode strings fixture: %v", err)
	}
	path := filepath.Join(dir, companionName(baseName, language, kind))
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write strings fixture: %v", err)
	}
	return path
}

func TestInlineRoundTripEdit(t *testing.T) {
	record := makeRecord(t, "NPC_", 0x01020304, 0, [][]byte{
		makeSubrecord("FULL", []byte("Hello\x00")),
	}, false)
	root := t.TempDir()
	path := writePluginFixture(t, t.TempDir(), "inline.esm", record)

	extracted, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("extract strings: %v", err)
	}
	if len(extracted) != 1 {
		t.Fatalf("extracted = %d strings, want 1", len(extracted))
	}
	if extracted[0].Text != "Hello" {
		t.Fatalf("text = %q, want %q", extracted[0].Text, "Hello")
	}
	if extracted[0].Storage.Localized {
		t.Fatal("storage should be inline")
	}
	if want := "NPC_:01020304:FULL:0"; extracted[0].Key != want {
		t.Fatalf("key = %q, want %q", extracted[0].Key, want)
	}

	edit := extracted[0]
	edit.Text = "Hi"
	outDir := t.TempDir()
	outPath, err := ApplyTranslations(path, root, outDir, []ExtractedString{edit}, "english")
	if err != nil {
		t.Fatalf("apply translations: %v", err)
	}

	refreshed, err := ExtractStrings(outPath, root, "english")
	if err != nil {
		t.Fatalf("re-extract strings: %v", err)
	}
	if len(refreshed) != 1 || refreshed[0].Text != "Hi" {
		t.Fatalf("re-extracted = %+v, want one entry with text %q", refreshed, "Hi")
	}
	if refreshed[0].Key != extracted[0].Key {
		t.Fatalf("key changed across apply: %q -> %q", extracted[0].Key, refreshed[0].Key)
	}
}

func TestCompressedRoundTripEdit(t *testing.T) {
	record := makeRecord(t, "NPC_", 0x01020305, recordCompressed, [][]byte{
		makeSubrecord("DESC", []byte("Compressed\x00")),
	}, true)
	root := t.TempDir()
	path := writePluginFixture(t, t.TempDir(), "compressed.esm", record)

	extracted, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("extract strings: %v", err)
	}
	if len(extracted) != 1 || extracted[0].Text != "Compressed" {
		t.Fatalf("extracted = %+v, want one entry with text %q", extracted, "Compressed")
	}

	edit := extracted[0]
	edit.Text = "Updated"
	outDir := t.TempDir()
	outPath, err := ApplyTranslations(path, root, outDir, []ExtractedString{edit}, "english")
	if err != nil {
		t.Fatalf("apply translations: %v", err)
	}

	refreshed, err := ExtractStrings(outPath, root, "english")
	if err != nil {
		t.Fatalf("re-extract strings: %v", err)
	}
	if len(refreshed) != 1 || refreshed[0].Text != "Updated" {
		t.Fatalf("re-extracted = %+v, want one entry with text %q", refreshed, "Updated")
	}
}

func TestLocalizedRoundTripEdit(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "Data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("create data dir: %v", err)
	}

	const stringID uint32 = 100
	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], stringID)
	record := makeRecord(t, "NPC_", 0x0A0B0C0D, 0, [][]byte{
		makeSubrecord("FULL", idBytes[:]),
	}, false)
	path := writePluginFixture(t, dataDir, "TestPlugin.esm", record)

	writeStringsFixture(t, root, "TestPlugin", "english", strtable.KindStrings, &strtable.File{
		Entries: []strtable.Entry{{ID: stringID, Text: "Hello"}},
	})

	extracted, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("extract strings: %v", err)
	}
	if len(extracted) != 1 {
		t.Fatalf("extracted = %d strings, want 1", len(extracted))
	}
	if extracted[0].Text != "Hello" {
		t.Fatalf("text = %q, want %q", extracted[0].Text, "Hello")
	}
	storage := extracted[0].Storage
	if !storage.Localized || storage.Table != strtable.KindStrings || storage.ID != stringID {
		t.Fatalf("storage = %+v, want localized strings id %d", storage, stringID)
	}

	edit := extracted[0]
	edit.Text = "こんにちは"
	outPath, err := ApplyTranslations(path, root, dataDir, []ExtractedString{edit}, "english")
	if err != nil {
		t.Fatalf("apply translations: %v", err)
	}

	// The edit lands in the table; the plugin's bytes stay untouched.
	outBytes, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output plugin: %v", err)
	}
	if !bytes.Equal(outBytes, record) {
		t.Fatal("localized edit modified the plugin bytes")
	}

	refreshed, err := ExtractStrings(outPath, root, "english")
	if err != nil {
		t.Fatalf("re-extract strings: %v", err)
	}
	if len(refreshed) != 1 || refreshed[0].Text != "こんにちは" {
		t.Fatalf("re-extracted = %+v, want one entry with text %q", refreshed, "こんにちは")
	}
}

func TestApplyLocalizedErrors(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "Data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("create data dir: %v", err)
	}

	const stringID uint32 = 7
	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], stringID)
	record := makeRecord(t, "NPC_", 0x00000001, 0, [][]byte{
		makeSubrecord("FULL", idBytes[:]),
	}, false)
	path := writePluginFixture(t, dataDir, "Errors.esm", record)

	writeStringsFixture(t, root, "Errors", "english", strtable.KindStrings, &strtable.File{
		Entries: []strtable.Entry{{ID: stringID, Text: "Hello"}},
	})

	extracted, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("extract strings: %v", err)
	}

	missingID := extracted[0]
	missingID.Text = "Hi"
	missingID.Storage.ID = 999
	_, err = ApplyTranslations(path, root, t.TempDir(), []ExtractedString{missingID}, "english")
	var idErr *MissingStringIDError
	if !errors.As(err, &idErr) || idErr.ID != 999 {
		t.Fatalf("apply with unknown id: error = %v, want MissingStringIDError(999)", err)
	}

	missingFile := extracted[0]
	missingFile.Text = "Hi"
	missingFile.Storage.Table = strtable.KindDLStrings
	_, err = ApplyTranslations(path, root, t.TempDir(), []ExtractedString{missingFile}, "english")
	var fileErr *MissingStringsFileError
	if !errors.As(err, &fileErr) || fileErr.Kind != strtable.KindDLStrings {
		t.Fatalf("apply without table: error = %v, want MissingStringsFileError(dlstrings)", err)
	}
}

func TestExtractKeyStability(t *testing.T) {
	recordA := makeRecord(t, "NPC_", 0x00000010, 0, [][]byte{
		makeSubrecord("FULL", []byte("First\x00")),
		makeSubrecord("DESC", []byte("Second\x00")),
		makeSubrecord("FULL", []byte("Third\x00")),
	}, false)
	recordB := makeRecord(t, "WEAP", 0x00000011, 0, [][]byte{
		makeSubrecord("FULL", []byte("Sword\x00")),
	}, false)
	plugin := append(makeGroup("TOP ", 0, recordA), recordB...)

	root := t.TempDir()
	path := writePluginFixture(t, t.TempDir(), "stable.esp", plugin)

	first, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("first extract: %v", err)
	}
	second, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("extracted = %d strings, want 4", len(first))
	}
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Fatalf("key %d unstable: %q vs %q", i, first[i].Key, second[i].Key)
		}
	}

	// Ordinals restart per record and count string-bearing subrecords only.
	wantKeys := []string{
		"NPC_:00000010:FULL:0",
		"NPC_:00000010:DESC:1",
		"NPC_:00000010:FULL:2",
		"WEAP:00000011:FULL:0",
	}
	for i, want := range wantKeys {
		if first[i].Key != want {
			t.Fatalf("key %d = %q, want %q", i, first[i].Key, want)
		}
	}
}

func TestExtractSkipsNonText(t *testing.T) {
	record := makeRecord(t, "NPC_", 0x00000001, 0, [][]byte{
		makeSubrecord("FULL", []byte{0x01, 0x02, 0x03}),       // control bytes
		makeSubrecord("FULL", []byte("\x00")),                 // empty before null
		makeSubrecord("FULL", []byte("!!!\x00")),              // no alphanumerics
		makeSubrecord("DESC", []byte("Actual text here\x00")), // kept
	}, false)
	root := t.TempDir()
	path := writePluginFixture(t, t.TempDir(), "skips.esp", record)

	extracted, err := ExtractStrings(path, root, "english")
	if err != nil {
		t.Fatalf("extract strings: %v", err)
	}
	if len(extracted) != 1 {
		t.Fatalf("extracted = %d strings, want 1", len(extracted))
	}
	if extracted[0].Text != "Actual text here" {
		t.Fatalf("text = %q, want %q", extracted[0].Text, "Actual text here")
	}
	// The skipped subrecords still count for nothing: the kept string gets
	// ordinal 0.
	if extracted[0].Index != 0 {
		t.Fatalf("index = %d, want 0", extracted[0].Index)
	}

	// Apply must recompute the same ordinal past the skipped subrecords.
	edit := extracted[0]
	edit.Text = "Edited"
	outPath, err := ApplyTranslations(path, root, t.TempDir(), []ExtractedString{edit}, "english")
	if err != nil {
		t.Fatalf("apply translations: %v", err)
	}
	refreshed, err := ExtractStrings(outPath, root, "english")
	if err != nil {
		t.Fatalf("re-extract strings: %v", err)
	}
	if len(refreshed) != 1 || refreshed[0].Text != "Edited" {
		t.Fatalf("re-extracted = %+v, want one entry with text %q", refreshed, "Edited")
	}
}
