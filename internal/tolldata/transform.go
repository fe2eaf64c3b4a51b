package tolldata

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrMissingColumn reports a consolidated table without the column to transform.
var ErrMissingColumn = eris.New("missing column")

// TransformOptions configures Transform.
type TransformOptions struct {
	// Column is uppercased. Defaults to Vehicle_type.
	Column string
	// IndexColumn prepends a zero-based row index under an empty header cell.
	IndexColumn bool
}

// TransformStats describes a transform.
type TransformStats struct {
	Rows    int `json:"rows"`
	Changed int `json:"changed"`
}

// Transform reads a consolidated table with a header row from r, uppercases
// opts.Column in every row, and writes the table to w. All other cells are
// copied unchanged.
func Transform(ctx context.Context, r io.Reader, w io.Writer, opts TransformOptions) (TransformStats, error) {
	var stats TransformStats
	column := opts.Column
	if column == "" {
		column = VehicleTypeColumn
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return stats, eris.Wrap(ErrMissingColumn, "transform: empty input")
	}
	if err != nil {
		return stats, eris.Wrap(err, "transform: read header")
	}

	idx := -1
	for i, h := range header {
		if h == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return stats, eris.Wrapf(ErrMissingColumn, "transform: no %q column in header", column)
	}

	// Caser keeps state, so each call gets its own.
	upper := cases.Upper(language.Und)
	cw := csv.NewWriter(w)

	if opts.IndexColumn {
		header = append([]string{""}, header...)
	}
	if err := cw.Write(header); err != nil {
		return stats, eris.Wrap(err, "transform: write header")
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "transform: context cancelled")
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, eris.Wrapf(err, "transform: read row %d", stats.Rows+1)
		}

		v := upper.String(rec[idx])
		if v != rec[idx] {
			stats.Changed++
		}
		rec[idx] = v

		if opts.IndexColumn {
			rec = append([]string{strconv.Itoa(stats.Rows)}, rec...)
		}
		if err := cw.Write(rec); err != nil {
			return stats, eris.Wrap(err, "transform: write row")
		}
		stats.Rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, eris.Wrap(err, "transform: flush")
	}
	return stats, nil
}
