package stats

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

// WriteCSV writes rows as headerless templateId,messageCount,totalWeight lines.
func WriteCSV(w io.Writer, rows []models.StatRow) error {
	cw := csv.NewWriter(w)
	for _, r := range rows {
		rec := []string{
			strconv.FormatInt(r.TemplateID, 10),
			strconv.FormatInt(r.MessageCount, 10),
			strconv.FormatInt(r.TotalWeight, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a stats report written by WriteCSV.
func ReadCSV(r io.Reader) ([]models.StatRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3

	var rows []models.StatRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}

		var vals [3]int64
		for i, field := range rec {
			v, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("stats row %d field %d: %w", len(rows)+1, i, err)
			}
			vals[i] = v
		}
		rows = append(rows, models.StatRow{TemplateID: vals[0], MessageCount: vals[1], TotalWeight: vals[2]})
	}
}

// FileReport persists the stats report to Path, replacing it atomically.
type FileReport struct {
	Path string
}

func (f FileReport) Persist(rows []models.StatRow) error {
	if err := writeAtomic(f.Path, rows); err != nil {
		return apperrors.NewReportWriteError(f.Path, err)
	}
	return nil
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(dest string, rows []models.StatRow) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriterSize(tmp, 64*1024)
	if err = WriteCSV(bw, rows); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, dest)
}
