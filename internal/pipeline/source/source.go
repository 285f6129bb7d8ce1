// Package source reads the headerless, backslash-escaped message log into raw rows.
package source

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

// Reader yields one RawRow per input record. Rows may have differing field
// counts; short rows are the decoder's concern.
type Reader struct {
	csv    *csv.Reader
	closer io.Closer
	rows   int64
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(newEscapeReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return &Reader{csv: cr}
}

// Open opens the log at path. The caller closes the Reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Read returns the next row or io.EOF. Parse failures are MalformedRecord errors.
func (r *Reader) Read() (models.RawRow, error) {
	rec, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		line := r.rows + 1
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = int64(pe.StartLine)
		}
		return nil, apperrors.NewMalformedRecordError(line, err)
	}
	r.rows++
	return models.RawRow(rec), nil
}

// Rows is the number of records read so far.
func (r *Reader) Rows() int64 {
	return r.rows
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
