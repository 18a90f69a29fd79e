package esp

import (
	"errors"
	"testing"
)

func TestScanInlineStrings(t *testing.T) {
	data := []byte("HELLO\x00\x01\x02\x00ok\x00World of text\x00trailing-no-null")

	scanned := ScanInlineStrings(data, 3)
	if len(scanned) != 2 {
		t.Fatalf("scanned = %d strings, want 2", len(scanned))
	}
	if scanned[0].Text != "HELLO" || scanned[0].Offset != 0 {
		t.Fatalf("first = %+v, want HELLO at 0", scanned[0])
	}
	if scanned[1].Text != "World of text" {
		t.Fatalf("second = %+v, want %q", scanned[1], "World of text")
	}

	// "ok" passes the filter at a lower threshold.
	if got := ScanInlineStrings(data, 2); len(got) != 3 {
		t.Fatalf("scanned with min 2 = %d strings, want 3", len(got))
	}
}

func TestScanReplaceRoundTrip(t *testing.T) {
	data := []byte("HELLO\x00middle\x00WORLD\x00")
	scanned := ScanInlineStrings(data, 3)

	var hello *ScannedString
	for i := range scanned {
		if scanned[i].Text == "HELLO" {
			hello = &scanned[i]
		}
	}
	if hello == nil {
		t.Fatal("HELLO not found by scan")
	}

	if err := ApplyInPlace(data, []InPlaceEdit{{Offset: hello.Offset, Text: "CELLO"}}); err != nil {
		t.Fatalf("apply in place: %v", err)
	}
	updated := ScanInlineStrings(data, 3)
	if updated[0].Text != "CELLO" {
		t.Fatalf("after replace: %q, want %q", updated[0].Text, "CELLO")
	}

	err := ApplyInPlace(data, []InPlaceEdit{{Offset: len(data) - 2, Text: "too long"}})
	if !errors.Is(err, ErrReplacementTooLong) {
		t.Fatalf("overlong edit: error = %v, want ErrReplacementTooLong", err)
	}
}

func TestScanKey(t *testing.T) {
	if got := ScanKey(0x1A2B); got != "plugin:00001a2b" {
		t.Fatalf("ScanKey = %q, want %q", got, "plugin:00001a2b")
	}
}
