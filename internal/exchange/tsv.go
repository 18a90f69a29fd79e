// Package exchange implements the text exchange surfaces around the binary
// codecs: the key/source/target TSV consumed and produced by the CLI, and the
// XTPLUGIN1 pipe-separated format with its strings-table join.
package exchange

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is one translation exchange row. Key addresses a string in a plugin
// (structural or scan key, or a decimal table id for raw string tables);
// Target is empty until an editor fills it in.
type Row struct {
	Key    string
	Source string
	Target string
}

const tsvHeader = "key\tsource\ttarget"

// ErrInvalidTSVRow reports a line without the expected three columns.
var ErrInvalidTSVRow = errors.New("exchange: invalid tsv row")

// WriteTSV writes rows as tab-separated lines with a header, escaping tabs
// and line breaks inside fields.
func WriteTSV(w io.Writer, rows []Row) error {
	if _, err := fmt.Fprintln(w, tsvHeader); err != nil {
		return fmt.Errorf("write tsv header: %w", err)
	}
	for _, row := range rows {
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\n",
			escapeTSV(row.Key),
			escapeTSV(row.Source),
			escapeTSV(row.Target),
		)
		if err != nil {
			return fmt.Errorf("write tsv row: %w", err)
		}
	}
	return nil
}

// ReadTSV parses the output of WriteTSV. The header line is optional; empty
// lines are skipped.
func ReadTSV(r io.Reader) ([]Row, error) {
	var rows []Row
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if line == tsvHeader {
				continue
			}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 3 {
			return nil, ErrInvalidTSVRow
		}
		rows = append(rows, Row{
			Key:    unescapeTSV(cols[0]),
			Source: unescapeTSV(cols[1]),
			Target: unescapeTSV(cols[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan tsv: %w", err)
	}
	return rows, nil
}

// escapeTSV replaces tabs and line breaks so a field stays on one line.
func escapeTSV(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}

func unescapeTSV(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			out.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 't':
			out.WriteByte('\t')
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case '\\':
			out.WriteByte('\\')
		default:
			out.WriteByte('\\')
			out.WriteByte(s[i])
		}
	}
	return out.String()
}
