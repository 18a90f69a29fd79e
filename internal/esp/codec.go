package esp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

func readTag(data []byte, offset int) (Tag, error) {
	var t Tag
	if offset < 0 || offset+4 > len(data) {
		return t, ErrInvalidHeader
	}
	copy(t[:], data[offset:offset+4])
	return t, nil
}

func readU16(data []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(data) {
		return 0, ErrInvalidHeader
	}
	return binary.LittleEndian.Uint16(data[offset : offset+2]), nil
}

func readU32(data []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(data) {
		return 0, ErrInvalidHeader
	}
	return binary.LittleEndian.Uint32(data[offset : offset+4]), nil
}

func appendU16(out []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(out, buf[:]...)
}

func appendU32(out []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(out, buf[:]...)
}

// openGroup is a group whose header has been read but whose children are
// still being consumed, bounded by its declared end offset.
type openGroup struct {
	group *Group
	end   int
}

// ParsePlugin parses raw plugin bytes into the top-level block list. Groups
// are tracked on an explicit stack so adversarially deep nesting cannot
// exhaust the call stack.
func ParsePlugin(data []byte) ([]Block, error) {
	var top []Block
	var stack []openGroup

	appendBlock := func(b Block) {
		if len(stack) > 0 {
			g := stack[len(stack)-1].group
			g.Children = append(g.Children, b)
		} else {
			top = append(top, b)
		}
	}

	offset := 0
	for {
		// Close every group whose declared extent has been consumed.
		for len(stack) > 0 && offset == stack[len(stack)-1].end {
			stack = stack[:len(stack)-1]
		}
		if offset >= len(data) {
			break
		}
		limit := len(data)
		if len(stack) > 0 {
			limit = stack[len(stack)-1].end
		}

		tag, err := readTag(data, offset)
		if err != nil {
			return nil, err
		}
		if tag == groupTag {
			group, end, err := parseGroupHeader(data, offset, limit)
			if err != nil {
				return nil, err
			}
			appendBlock(group)
			stack = append(stack, openGroup{group: group, end: end})
			offset += groupHeaderSize
		} else {
			record, next, err := parseRecord(data, offset, limit)
			if err != nil {
				return nil, err
			}
			appendBlock(record)
			offset = next
		}
	}
	if len(stack) > 0 {
		return nil, ErrInvalidGroup
	}
	return top, nil
}

// parseGroupHeader reads a 24-byte group header at offset and returns the
// group with its declared end offset. The group must fit within limit, the
// end of the enclosing container.
func parseGroupHeader(data []byte, offset, limit int) (*Group, int, error) {
	if offset+groupHeaderSize > limit {
		return nil, 0, ErrInvalidGroup
	}
	size, err := readU32(data, offset+4)
	if err != nil {
		return nil, 0, ErrInvalidGroup
	}
	if size < groupHeaderSize || offset+int(size) > limit {
		return nil, 0, ErrInvalidGroup
	}
	label, _ := readTag(data, offset+8)
	groupType, _ := readU32(data, offset+12)
	stamp, _ := readU32(data, offset+16)
	unknown, _ := readU32(data, offset+20)
	group := &Group{
		Label:     label,
		GroupType: groupType,
		Stamp:     stamp,
		Unknown:   unknown,
	}
	return group, offset + int(size), nil
}

// parseRecord reads one record at offset, decompressing the payload when the
// compression flag is set, and returns it with the offset just past it. The
// record must fit within limit.
func parseRecord(data []byte, offset, limit int) (*Record, int, error) {
	if offset+recordHeaderSize > limit {
		return nil, 0, ErrInvalidRecord
	}
	recordType, _ := readTag(data, offset)
	dataSize, _ := readU32(data, offset+4)
	flags, _ := readU32(data, offset+8)
	formID, _ := readU32(data, offset+12)
	stamp, _ := readU16(data, offset+16)
	versionControl, _ := readU16(data, offset+18)
	version, _ := readU16(data, offset+20)
	unknown, _ := readU16(data, offset+22)

	dataStart := offset + recordHeaderSize
	dataEnd := dataStart + int(dataSize)
	if dataEnd < dataStart || dataEnd > limit {
		return nil, 0, ErrInvalidRecord
	}
	stored := data[dataStart:dataEnd]

	compressed := flags&recordCompressed != 0
	payload := stored
	if compressed {
		decompressed, err := decompressRecordData(stored)
		if err != nil {
			return nil, 0, err
		}
		payload = decompressed
	}
	subrecords, err := parseSubrecords(payload)
	if err != nil {
		return nil, 0, err
	}

	record := &Record{
		Header: RecordHeader{
			Type:           recordType,
			Flags:          flags,
			FormID:         formID,
			Stamp:          stamp,
			VersionControl: versionControl,
			Version:        version,
			Unknown:        unknown,
		},
		Subrecords: subrecords,
		Compressed: compressed,
	}
	return record, dataEnd, nil
}

// parseSubrecords splits a decompressed record payload into subrecords. An
// "XXXX" marker carries a u32 override for the next subrecord's length; the
// marker itself is consumed and not emitted as data.
func parseSubrecords(data []byte) ([]Subrecord, error) {
	var subrecords []Subrecord
	cursor := 0
	extendedLen := -1
	for cursor < len(data) {
		if cursor+6 > len(data) {
			return nil, ErrInvalidSubrecord
		}
		subType, _ := readTag(data, cursor)
		length, _ := readU16(data, cursor+4)
		payloadStart := cursor + 6

		if subType == extendedLengthTag {
			if length != 4 || payloadStart+4 > len(data) {
				return nil, ErrInvalidSubrecord
			}
			override, _ := readU32(data, payloadStart)
			extendedLen = int(override)
			cursor = payloadStart + 4
			continue
		}

		actualLen := int(length)
		if extendedLen >= 0 {
			actualLen = extendedLen
			extendedLen = -1
		}
		payloadEnd := payloadStart + actualLen
		if payloadEnd < payloadStart || payloadEnd > len(data) {
			return nil, ErrInvalidSubrecord
		}
		payload := make([]byte, actualLen)
		copy(payload, data[payloadStart:payloadEnd])
		subrecords = append(subrecords, Subrecord{Type: subType, Data: payload})
		cursor = payloadEnd
	}
	return subrecords, nil
}

// groupFrame is one level of the iterative serializer: a group whose encoded
// children are accumulating in buf.
type groupFrame struct {
	group *Group
	next  int
	buf   []byte
}

// SerializeBlocks re-serializes a block list to plugin bytes. Group sizes are
// recomputed from the encoded children, so edits of any size are absorbed.
// Like the parser it runs on an explicit stack.
func SerializeBlocks(blocks []Block) ([]byte, error) {
	root := &Group{Children: blocks}
	stack := []*groupFrame{{group: root}}
	for {
		frame := stack[len(stack)-1]
		if frame.next < len(frame.group.Children) {
			child := frame.group.Children[frame.next]
			frame.next++
			switch b := child.(type) {
			case *Record:
				encoded, err := serializeRecord(b)
				if err != nil {
					return nil, err
				}
				frame.buf = append(frame.buf, encoded...)
			case *Group:
				stack = append(stack, &groupFrame{group: b})
			}
			continue
		}

		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return frame.buf, nil
		}
		parent := stack[len(stack)-1]
		parent.buf = appendGroupHeader(parent.buf, frame.group, len(frame.buf))
		parent.buf = append(parent.buf, frame.buf...)
	}
}

func appendGroupHeader(out []byte, group *Group, childrenSize int) []byte {
	out = append(out, groupTag[:]...)
	out = appendU32(out, uint32(groupHeaderSize+childrenSize))
	out = append(out, group.Label[:]...)
	out = appendU32(out, group.GroupType)
	out = appendU32(out, group.Stamp)
	out = appendU32(out, group.Unknown)
	return out
}

func serializeRecord(record *Record) ([]byte, error) {
	data := serializeSubrecords(record.Subrecords)
	if record.Compressed {
		compressed, err := compressRecordData(data)
		if err != nil {
			return nil, err
		}
		data = compressed
	}
	out := make([]byte, 0, recordHeaderSize+len(data))
	out = append(out, record.Header.Type[:]...)
	out = appendU32(out, uint32(len(data)))
	out = appendU32(out, record.Header.Flags)
	out = appendU32(out, record.Header.FormID)
	out = appendU16(out, record.Header.Stamp)
	out = appendU16(out, record.Header.VersionControl)
	out = appendU16(out, record.Header.Version)
	out = appendU16(out, record.Header.Unknown)
	out = append(out, data...)
	return out, nil
}

// serializeSubrecords encodes subrecords back to the wire form, synthesizing
// an "XXXX" marker ahead of any payload longer than a u16 length can express.
func serializeSubrecords(subrecords []Subrecord) []byte {
	var out []byte
	for _, sub := range subrecords {
		if len(sub.Data) > math.MaxUint16 {
			out = append(out, extendedLengthTag[:]...)
			out = appendU16(out, 4)
			out = appendU32(out, uint32(len(sub.Data)))
			out = append(out, sub.Type[:]...)
			out = appendU16(out, 0)
		} else {
			out = append(out, sub.Type[:]...)
			out = appendU16(out, uint16(len(sub.Data)))
		}
		out = append(out, sub.Data...)
	}
	return out
}

// decompressRecordData unwraps a compressed record payload: a u32
// uncompressed-size hint followed by a zlib stream. The hint is skipped, not
// trusted.
func decompressRecordData(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrInvalidRecord
	}
	reader, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, fmt.Errorf("open record zlib stream: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress record data: %w", err)
	}
	return out, nil
}

// compressRecordData is the inverse: actual uncompressed size, then the zlib
// stream at the default level.
func compressRecordData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(data)))
	buf.Write(sizeBuf[:])
	writer := zlib.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compress record data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish record zlib stream: %w", err)
	}
	return buf.Bytes(), nil
}
