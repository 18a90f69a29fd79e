// Package strtable reads and writes the companion string-table files that
// hold a plugin's externalized, per-language text (.strings, .dlstrings and
// .ilstrings). Both the plugin codec and the text-entry tooling consume this
// single implementation so the two can never drift out of byte compatibility.
//
// All three layouts share a header of u32 entry count and u32 data-block size,
// followed by count (u32 id, u32 offset) directory pairs and the data block.
// In a plain .strings file each entry is null-terminated UTF-8 at its offset;
// in the length-prefixed variants each entry is a u32 length (including the
// trailing null) followed by that many bytes.
package strtable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Kind identifies one of the three companion table layouts.
type Kind int

const (
	// KindStrings is the plain null-terminated layout (.strings).
	KindStrings Kind = iota
	// KindDLStrings is the length-prefixed layout (.dlstrings).
	KindDLStrings
	// KindILStrings shares the .dlstrings layout (.ilstrings).
	KindILStrings

	// KindCount is the number of table kinds.
	KindCount
)

// Extension returns the file extension for the kind, without the dot.
func (k Kind) Extension() string {
	switch k {
	case KindStrings:
		return "strings"
	case KindDLStrings:
		return "dlstrings"
	case KindILStrings:
		return "ilstrings"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.Extension() }

// KindFromExtension maps a file extension (with or without leading dot) to a
// table kind.
func KindFromExtension(ext string) (Kind, bool) {
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	switch ext {
	case "strings":
		return KindStrings, true
	case "dlstrings":
		return KindDLStrings, true
	case "ilstrings":
		return KindILStrings, true
	}
	return 0, false
}

// Entry is one id→text pair in a table.
type Entry struct {
	ID   uint32
	Text string
}

// File is an in-memory string table. Entry order is preserved on read;
// Write sorts by id.
type File struct {
	Entries []Entry
}

var (
	ErrInvalidHeader     = errors.New("strtable: invalid header")
	ErrUnexpectedEOF     = errors.New("strtable: unexpected end of file")
	ErrInvalidOffset     = errors.New("strtable: entry offset outside data block")
	ErrInvalidLength     = errors.New("strtable: invalid entry length")
	ErrMissingTerminator = errors.New("strtable: missing null terminator")
	ErrInvalidUTF8       = errors.New("strtable: entry text is not valid UTF-8")
)

// DuplicateIDError reports two entries sharing an id on write.
type DuplicateIDError struct {
	ID uint32
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("strtable: duplicate string id %d", e.ID)
}

const headerSize = 8

// Read parses table bytes according to the layout for kind.
func Read(kind Kind, data []byte) (*File, error) {
	switch kind {
	case KindStrings:
		return readPlain(data)
	default:
		return readLengthPrefixed(data)
	}
}

// Write serializes a table according to the layout for kind. Entries are
// written in ascending id order; a duplicated id is a *DuplicateIDError.
func Write(kind Kind, f *File) ([]byte, error) {
	switch kind {
	case KindStrings:
		return writePlain(f)
	default:
		return writeLengthPrefixed(f)
	}
}

// directory validates the shared header and returns the entry count and the
// data block boundaries.
func directory(data []byte) (count uint32, dataStart, dataEnd int, err error) {
	if len(data) < headerSize {
		return 0, 0, 0, ErrInvalidHeader
	}
	count = binary.LittleEndian.Uint32(data[0:4])
	dataSize := int(binary.LittleEndian.Uint32(data[4:8]))
	dataStart = headerSize + int(count)*8
	dataEnd = dataStart + dataSize
	if dataStart < headerSize || dataEnd < dataStart {
		return 0, 0, 0, ErrInvalidHeader
	}
	if dataEnd > len(data) {
		return 0, 0, 0, ErrUnexpectedEOF
	}
	return count, dataStart, dataEnd, nil
}

func readPlain(data []byte) (*File, error) {
	count, dataStart, dataEnd, err := directory(data)
	if err != nil {
		return nil, err
	}
	dataSize := dataEnd - dataStart

	entries := make([]Entry, 0, count)
	for i := 0; i < int(count); i++ {
		base := headerSize + i*8
		id := binary.LittleEndian.Uint32(data[base : base+4])
		offset := int(binary.LittleEndian.Uint32(data[base+4 : base+8]))
		if offset >= dataSize {
			return nil, ErrInvalidOffset
		}
		start := dataStart + offset
		end := start
		for end < dataEnd && data[end] != 0 {
			end++
		}
		if end >= dataEnd {
			return nil, ErrMissingTerminator
		}
		text := data[start:end]
		if !utf8.Valid(text) {
			return nil, ErrInvalidUTF8
		}
		entries = append(entries, Entry{ID: id, Text: string(text)})
	}
	return &File{Entries: entries}, nil
}

func readLengthPrefixed(data []byte) (*File, error) {
	count, dataStart, dataEnd, err := directory(data)
	if err != nil {
		return nil, err
	}
	dataSize := dataEnd - dataStart

	entries := make([]Entry, 0, count)
	for i := 0; i < int(count); i++ {
		base := headerSize + i*8
		id := binary.LittleEndian.Uint32(data[base : base+4])
		offset := int(binary.LittleEndian.Uint32(data[base+4 : base+8]))
		if offset >= dataSize {
			return nil, ErrInvalidOffset
		}
		lenOffset := dataStart + offset
		if lenOffset+4 > dataEnd {
			return nil, ErrUnexpectedEOF
		}
		// Length includes the trailing null.
		length := int(binary.LittleEndian.Uint32(data[lenOffset : lenOffset+4]))
		if length == 0 {
			return nil, ErrInvalidLength
		}
		textStart := lenOffset + 4
		textEnd := textStart + length
		if textEnd > dataEnd {
			return nil, ErrUnexpectedEOF
		}
		if data[textEnd-1] != 0 {
			return nil, ErrMissingTerminator
		}
		text := data[textStart : textEnd-1]
		if !utf8.Valid(text) {
			return nil, ErrInvalidUTF8
		}
		entries = append(entries, Entry{ID: id, Text: string(text)})
	}
	return &File{Entries: entries}, nil
}

// sortedEntries returns a copy of the entries in ascending id order, failing
// on duplicate ids.
func sortedEntries(f *File) ([]Entry, error) {
	entries := make([]Entry, len(f.Entries))
	copy(entries, f.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ID == entries[i].ID {
			return nil, &DuplicateIDError{ID: entries[i].ID}
		}
	}
	return entries, nil
}

func writePlain(f *File) ([]byte, error) {
	entries, err := sortedEntries(f)
	if err != nil {
		return nil, err
	}

	var dataBlock []byte
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(len(dataBlock))
		dataBlock = append(dataBlock, e.Text...)
		dataBlock = append(dataBlock, 0)
	}
	return assemble(entries, offsets, dataBlock), nil
}

func writeLengthPrefixed(f *File) ([]byte, error) {
	entries, err := sortedEntries(f)
	if err != nil {
		return nil, err
	}

	var dataBlock []byte
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(len(dataBlock))
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Text)+1))
		dataBlock = append(dataBlock, lenBuf[:]...)
		dataBlock = append(dataBlock, e.Text...)
		dataBlock = append(dataBlock, 0)
	}
	return assemble(entries, offsets, dataBlock), nil
}

func assemble(entries []Entry, offsets []uint32, dataBlock []byte) []byte {
	out := make([]byte, 0, headerSize+len(entries)*8+len(dataBlock))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(entries)))
	out = append(out, buf[:]...)
	binary.LittleEndian.PutUint32(buf[:], uint32(len(dataBlock)))
	out = append(out, buf[:]...)
	for i, e := range entries {
		binary.LittleEndian.PutUint32(buf[:], e.ID)
		out = append(out, buf[:]...)
		binary.LittleEndian.PutUint32(buf[:], offsets[i])
		out = append(out, buf[:]...)
	}
	out = append(out, dataBlock...)
	return out
}
