package contacts

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record is one CSV row keyed by header name.
type Record struct {
	line   int
	fields map[string]string
}

// NewRecord builds a record from a field map. The map is copied.
func NewRecord(line int, fields map[string]string) Record {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Record{line: line, fields: cp}
}

// Get returns the value of field and whether the column exists.
func (r Record) Get(field string) (string, bool) {
	v, ok := r.fields[field]
	return v, ok
}

// Line is the 1-based line number of the row in the source file.
func (r Record) Line() int { return r.line }

// Fields returns a copy of the record's field map.
func (r Record) Fields() map[string]string {
	cp := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		cp[k] = v
	}
	return cp
}

// ReadError reports a contacts file that could not be opened or parsed.
type ReadError struct {
	Path  string
	Line  int
	Cause error
}

func (e *ReadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("read contacts %s: line %d: %v", e.Path, e.Line, e.Cause)
	}
	return fmt.Sprintf("read contacts %s: %v", e.Path, e.Cause)
}

func (e *ReadError) Unwrap() error { return e.Cause }

// Read loads every record in the CSV file at path, in file order.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Cause: err}
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Debug("contacts file close failed", "path", path, "error", err)
		}
	}()

	records, err := Parse(f)
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			re.Path = path
			return nil, re
		}
		return nil, &ReadError{Path: path, Cause: err}
	}
	slog.Debug("contacts loaded", "path", path, "count", len(records))
	return records, nil
}

// Parse reads records from r. The first non-empty line is the header; blank
// lines are skipped and rows whose field count differs from the header fail.
func Parse(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, &ReadError{Cause: err}
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, parseError(err)
	}
	header = append([]string(nil), header...)

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseError(err)
		}
		line, _ := cr.FieldPos(0)
		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = row[i]
		}
		records = append(records, Record{line: line, fields: fields})
	}
	return records, nil
}

func parseError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ReadError{Line: pe.Line, Cause: err}
	}
	return &ReadError{Cause: err}
}
