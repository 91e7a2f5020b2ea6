package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// csvHeader returns the fixed export header: Time followed by every channel.
func csvHeader() []string {
	header := []string{"Time"}
	for _, c := range AllChannels() {
		header = append(header, c.String())
	}
	return header
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteCSV writes the buffer as CSV, one row per sample, oldest first.
// Writing an empty buffer returns ErrEmpty.
func (b *Buffer) WriteCSV(w io.Writer) error {
	snap := b.Snapshot()
	if snap.Len() == 0 {
		return ErrEmpty
	}
	return snap.WriteCSV(w)
}

// WriteCSV writes the snapshot in the export format.
func (s Snapshot) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	channels := AllChannels()
	row := make([]string, 1+len(channels))
	for i, t := range s.Times {
		row[0] = formatValue(t)
		for j, c := range channels {
			row[j+1] = formatValue(s.Series[c][i])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the buffer to a new file at path. No file is created for
// an empty buffer.
func (b *Buffer) ExportCSV(path string) (err error) {
	snap := b.Snapshot()
	if snap.Len() == 0 {
		return ErrEmpty
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return snap.WriteCSV(f)
}

// ReadCSV parses an export produced by WriteCSV.
func ReadCSV(r io.Reader) (Snapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 1 + NumChannels

	header, err := cr.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read header: %w", err)
	}
	want := csvHeader()
	for i := range want {
		if header[i] != want[i] {
			return Snapshot{}, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], want[i])
		}
	}

	snap := Snapshot{Series: make(map[Channel][]float64, NumChannels)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Snapshot{}, fmt.Errorf("line %d column %s: %w", line, want[i], err)
			}
			vals[i] = v
		}
		snap.Times = append(snap.Times, vals[0])
		for j, c := range AllChannels() {
			snap.Series[c] = append(snap.Series[c], vals[j+1])
		}
	}
	return snap, nil
}
