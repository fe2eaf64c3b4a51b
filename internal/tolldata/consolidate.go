package tolldata

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrRowCountMismatch reports reduced inputs with different row counts
	// under MismatchError.
	ErrRowCountMismatch = eris.New("row count mismatch")

	// ErrColumnCount reports a reduced row or header with the wrong number of columns.
	ErrColumnCount = eris.New("column count mismatch")
)

// MismatchPolicy decides how Consolidate aligns inputs of unequal length.
type MismatchPolicy string

const (
	// MismatchError fails with ErrRowCountMismatch.
	MismatchError MismatchPolicy = "error"
	// MismatchTruncate keeps only as many rows as the shortest input.
	MismatchTruncate MismatchPolicy = "truncate"
	// MismatchPad keeps as many rows as the longest input and leaves missing cells empty.
	MismatchPad MismatchPolicy = "pad"
)

// ParseMismatchPolicy converts a config value into a MismatchPolicy. Empty
// selects MismatchError.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch MismatchPolicy(s) {
	case "", MismatchError:
		return MismatchError, nil
	case MismatchTruncate:
		return MismatchTruncate, nil
	case MismatchPad:
		return MismatchPad, nil
	default:
		return "", eris.Errorf("unknown mismatch policy: %q (valid: error, truncate, pad)", s)
	}
}

// Table is one headerless reduced input held in memory.
type Table struct {
	Name  string
	Width int
	Rows  [][]string
}

// ReadTable reads a headerless reduced CSV whose rows must all have width columns.
func ReadTable(ctx context.Context, name string, r io.Reader, width int) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	t := &Table{Name: name, Width: width}
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "consolidate: context cancelled")
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "consolidate: read %s line %d", name, line)
		}
		if len(rec) != width {
			return nil, eris.Wrapf(ErrColumnCount, "consolidate: %s line %d has %d columns, want %d",
				name, line, len(rec), width)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// ConsolidateStats describes a consolidation.
type ConsolidateStats struct {
	Rows   int            `json:"rows"`
	Inputs map[string]int `json:"inputs"`
}

// Consolidate writes header followed by the row-by-row concatenation of
// tables, in the order given. The table widths must add up to len(header).
func Consolidate(ctx context.Context, w io.Writer, header []string, policy MismatchPolicy, tables ...*Table) (ConsolidateStats, error) {
	stats := ConsolidateStats{Inputs: make(map[string]int, len(tables))}

	width := 0
	minRows, maxRows := -1, 0
	for _, t := range tables {
		width += t.Width
		stats.Inputs[t.Name] = len(t.Rows)
		if minRows < 0 || len(t.Rows) < minRows {
			minRows = len(t.Rows)
		}
		if len(t.Rows) > maxRows {
			maxRows = len(t.Rows)
		}
	}
	if minRows < 0 {
		minRows = 0
	}
	if width != len(header) {
		return stats, eris.Wrapf(ErrColumnCount, "consolidate: inputs have %d columns, header has %d", width, len(header))
	}

	n := minRows
	if minRows != maxRows {
		switch policy {
		case MismatchTruncate:
			zap.L().Warn("consolidate: truncating to shortest input",
				zap.Any("inputs", stats.Inputs), zap.Int("rows", minRows))
		case MismatchPad:
			n = maxRows
			zap.L().Warn("consolidate: padding shorter inputs",
				zap.Any("inputs", stats.Inputs), zap.Int("rows", maxRows))
		default:
			return stats, eris.Wrapf(ErrRowCountMismatch, "consolidate: input rows %v", stats.Inputs)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return stats, eris.Wrap(err, "consolidate: write header")
	}

	out := make([]string, width)
	for i := 0; i < n; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, eris.Wrap(err, "consolidate: context cancelled")
			}
		}
		col := 0
		for _, t := range tables {
			if i < len(t.Rows) {
				copy(out[col:], t.Rows[i])
			} else {
				clear(out[col : col+t.Width])
			}
			col += t.Width
		}
		if err := cw.Write(out); err != nil {
			return stats, eris.Wrap(err, "consolidate: write row")
		}
		stats.Rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, eris.Wrap(err, "consolidate: flush")
	}
	return stats, nil
}
