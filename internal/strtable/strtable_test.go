package strtable

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

var allKinds = []Kind{KindStrings, KindDLStrings, KindILStrings}

func TestReadWriteRoundTrip(t *testing.T) {
	file := &File{Entries: []Entry{
		{ID: 5, Text: "Iron Sword"},
		{ID: 1, Text: "こんにちは"},
		{ID: 3, Text: "Multi\nline\ttext"},
		{ID: 9, Text: ""},
	}}
	want := []Entry{
		{ID: 1, Text: "こんにちは"},
		{ID: 3, Text: "Multi\nline\ttext"},
		{ID: 5, Text: "Iron Sword"},
		{ID: 9, Text: ""},
	}

	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			data, err := Write(kind, file)
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := Read(kind, data)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			// Entries come back in ascending id order regardless of input
			// order.
			if !reflect.DeepEqual(got.Entries, want) {
				t.Fatalf("round trip = %+v, want %+v", got.Entries, want)
			}

			// A second write of the read-back file is byte-identical.
			again, err := Write(kind, got)
			if err != nil {
				t.Fatalf("rewrite: %v", err)
			}
			if !reflect.DeepEqual(again, data) {
				t.Fatal("rewrite is not byte-identical")
			}
		})
	}
}

func TestWriteDuplicateID(t *testing.T) {
	file := &File{Entries: []Entry{
		{ID: 2, Text: "first"},
		{ID: 1, Text: "other"},
		{ID: 2, Text: "second"},
	}}
	for _, kind := range allKinds {
		_, err := Write(kind, file)
		var dup *DuplicateIDError
		if !errors.As(err, &dup) || dup.ID != 2 {
			t.Fatalf("%s: error = %v, want DuplicateIDError(2)", kind, err)
		}
	}
}

func TestReadErrors(t *testing.T) {
	valid := func(kind Kind) []byte {
		data, err := Write(kind, &File{Entries: []Entry{{ID: 1, Text: "Hello"}}})
		if err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		return data
	}

	t.Run("short header", func(t *testing.T) {
		if _, err := Read(KindStrings, []byte{1, 2, 3}); !errors.Is(err, ErrInvalidHeader) {
			t.Fatalf("error = %v, want ErrInvalidHeader", err)
		}
	})

	t.Run("data block past buffer", func(t *testing.T) {
		data := valid(KindStrings)
		binary.LittleEndian.PutUint32(data[4:8], uint32(len(data))) // inflate data size
		if _, err := Read(KindStrings, data); !errors.Is(err, ErrUnexpectedEOF) {
			t.Fatalf("error = %v, want ErrUnexpectedEOF", err)
		}
	})

	t.Run("offset outside data block", func(t *testing.T) {
		for _, kind := range allKinds {
			data := valid(kind)
			binary.LittleEndian.PutUint32(data[12:16], 9999) // directory offset
			if _, err := Read(kind, data); !errors.Is(err, ErrInvalidOffset) {
				t.Fatalf("%s: error = %v, want ErrInvalidOffset", kind, err)
			}
		}
	})

	t.Run("plain missing terminator", func(t *testing.T) {
		data := valid(KindStrings)
		data[len(data)-1] = 'x' // clobber the trailing null
		if _, err := Read(KindStrings, data); !errors.Is(err, ErrMissingTerminator) {
			t.Fatalf("error = %v, want ErrMissingTerminator", err)
		}
	})

	t.Run("length-prefixed missing terminator", func(t *testing.T) {
		data := valid(KindDLStrings)
		data[len(data)-1] = 'x' // final byte of the run must be null
		if _, err := Read(KindDLStrings, data); !errors.Is(err, ErrMissingTerminator) {
			t.Fatalf("error = %v, want ErrMissingTerminator", err)
		}
	})

	t.Run("length-prefixed zero length", func(t *testing.T) {
		data := valid(KindILStrings)
		binary.LittleEndian.PutUint32(data[16:20], 0) // entry length prefix
		if _, err := Read(KindILStrings, data); !errors.Is(err, ErrInvalidLength) {
			t.Fatalf("error = %v, want ErrInvalidLength", err)
		}
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		data := valid(KindStrings)
		data[len(data)-2] = 0xFF // corrupt a text byte
		if _, err := Read(KindStrings, data); !errors.Is(err, ErrInvalidUTF8) {
			t.Fatalf("error = %v, want ErrInvalidUTF8", err)
		}
	})
}

func TestKindFromExtension(t *testing.T) {
	cases := []struct {
		ext  string
		want Kind
		ok   bool
	}{
		{".strings", KindStrings, true},
		{"dlstrings", KindDLStrings, true},
		{".ilstrings", KindILStrings, true},
		{".esp", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := KindFromExtension(tc.ext)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("KindFromExtension(%q) = %v, %v; want %v, %v", tc.ext, got, ok, tc.want, tc.ok)
		}
	}
}
