package esp

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"esp-translator/internal/textutil"
)

// ScannedString is a null-terminated UTF-8 run found by the heuristic
// scanner, addressed by its byte offset in the file.
type ScannedString struct {
	Offset int
	Length int
	Text   string
}

// ErrReplacementTooLong reports an in-place edit that would overrun the
// buffer.
var ErrReplacementTooLong = errors.New("esp: replacement does not fit at offset")

// ScanKey builds the key used for heuristically scanned strings, parallel to
// the structural keys: "plugin:<offset08x>".
func ScanKey(offset int) string {
	return fmt.Sprintf("plugin:%08x", offset)
}

// ScanInlineStrings is the fallback extractor for plugins that fail the
// structural parse: it collects every null-terminated UTF-8 run of at least
// minLen bytes that passes the looks-like-text filter.
func ScanInlineStrings(data []byte, minLen int) []ScannedString {
	var results []ScannedString
	start := 0
	for start < len(data) {
		end := bytes.IndexByte(data[start:], 0)
		if end < 0 {
			break
		}
		run := data[start : start+end]
		if len(run) >= minLen && utf8.Valid(run) {
			text := string(run)
			if textutil.LooksLikeText(text) {
				results = append(results, ScannedString{
					Offset: start,
					Length: len(run),
					Text:   text,
				})
			}
		}
		start += end + 1
	}
	return results
}

// InPlaceEdit overwrites bytes at Offset with Text. The caller is responsible
// for not exceeding the original run's length; anything shorter leaves the
// original trailing bytes in place up to the null.
type InPlaceEdit struct {
	Offset int
	Text   string
}

// ApplyInPlace writes each edit directly into the buffer, bounds-checked.
func ApplyInPlace(data []byte, edits []InPlaceEdit) error {
	for _, edit := range edits {
		end := edit.Offset + len(edit.Text)
		if edit.Offset < 0 || end > len(data) {
			return ErrReplacementTooLong
		}
		copy(data[edit.Offset:end], edit.Text)
	}
	return nil
}
