// Package esp parses and serializes Bethesda-style plugin containers
// (.esp/.esm/.esl): a nested tree of groups, records and subrecords, some of
// which are zlib-compressed, whose user-facing text is stored either inline
// or via numeric ids into companion string tables (see internal/strtable).
//
// The codec does not interpret record semantics; it carries bytes it does not
// understand untouched so that re-serialization reproduces the input exactly,
// except for intended text edits. All operations are synchronous and keep no
// shared state, so independent plugin files can be processed concurrently.
package esp

import (
	"errors"
	"fmt"

	"esp-translator/internal/strtable"
)

// Tag is a 4-byte record, group or subrecord type tag.
type Tag [4]byte

func (t Tag) String() string {
	return string(t[:])
}

// MakeTag builds a Tag from a 4-character string.
func MakeTag(s string) Tag {
	var t Tag
	copy(t[:], s)
	return t
}

const (
	recordHeaderSize = 24
	groupHeaderSize  = 24

	// recordCompressed marks a record whose payload is a u32 uncompressed
	// size hint followed by a zlib stream.
	recordCompressed uint32 = 0x00040000
)

var (
	groupTag          = MakeTag("GRUP")
	extendedLengthTag = MakeTag("XXXX")
	fullTag           = MakeTag("FULL")
	descTag           = MakeTag("DESC")
)

var (
	ErrInvalidHeader      = errors.New("esp: invalid header")
	ErrInvalidRecord      = errors.New("esp: invalid record")
	ErrInvalidGroup       = errors.New("esp: invalid group")
	ErrInvalidSubrecord   = errors.New("esp: invalid subrecord")
	ErrInvalidStringsPath = errors.New("esp: invalid strings path")
)

// MissingStringsFileError reports a localized edit whose companion table was
// never loaded.
type MissingStringsFileError struct {
	Kind strtable.Kind
}

func (e *MissingStringsFileError) Error() string {
	return fmt.Sprintf("esp: missing strings file: %s", e.Kind)
}

// MissingStringIDError reports a localized edit whose id is absent from the
// loaded table.
type MissingStringIDError struct {
	ID uint32
}

func (e *MissingStringIDError) Error() string {
	return fmt.Sprintf("esp: missing string id: %d", e.ID)
}

// Block is one element of the plugin tree: either a *Record or a *Group.
type Block interface {
	isBlock()
}

// RecordHeader is the fixed 24-byte record header. FormID and Type together
// identify a record and feed the string keys; the compression bit of Flags
// decides whether the payload is zlib-wrapped on disk.
type RecordHeader struct {
	Type           Tag
	Flags          uint32
	FormID         uint32
	Stamp          uint16
	VersionControl uint16
	Version        uint16
	Unknown        uint16
}

// Record is a typed unit holding a sequence of subrecords. Compressed
// remembers whether the payload was zlib-wrapped on disk; serialization
// preserves that state rather than re-deriving it.
type Record struct {
	Header     RecordHeader
	Subrecords []Subrecord
	Compressed bool
}

func (*Record) isBlock() {}

// Subrecord is a typed, length-prefixed field within a record.
type Subrecord struct {
	Type Tag
	Data []byte
}

// Group is a labeled container of records and nested groups, bounded on disk
// by a declared total size.
type Group struct {
	Label     Tag
	GroupType uint32
	Stamp     uint32
	Unknown   uint32
	Children  []Block
}

func (*Group) isBlock() {}

// StringStorage records where a subrecord's text lives: in its own payload
// bytes, or in a companion string table addressed by id.
type StringStorage struct {
	Localized bool
	Table     strtable.Kind
	ID        uint32
}

// ExtractedString is one translatable string found in a plugin. Key is stable
// across an extract→edit→apply cycle: the applier recomputes it during an
// identical traversal.
type ExtractedString struct {
	Key           string
	RecordType    Tag
	SubrecordType Tag
	FormID        uint32
	Index         int
	Text          string
	Storage       StringStorage
}

// stringKey builds the unique key for the index-th string-bearing subrecord
// of a record: "<RecordTag>:<FormIDUpperHex8>:<SubrecordTag>:<index>".
func stringKey(recordType Tag, formID uint32, subType Tag, index int) string {
	return fmt.Sprintf("%s:%08X:%s:%d", recordType, formID, subType, index)
}

// isStringSubrecord reports whether a subrecord tag is one of the recognized
// string-bearing tags.
func isStringSubrecord(t Tag) bool {
	return t == fullTag || t == descTag
}
