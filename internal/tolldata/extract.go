package tolldata

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/fetcher"
)

// ErrMalformedLine reports a raw line the extractors could not use while
// running in strict mode.
var ErrMalformedLine = eris.New("malformed line")

// ExtractOptions controls extractor tolerance.
type ExtractOptions struct {
	// Strict turns dropped or short lines into ErrMalformedLine.
	Strict bool
}

// ExtractStats counts what an extractor read and wrote.
type ExtractStats struct {
	Rows    int `json:"rows"`
	Dropped int `json:"dropped"`
	Short   int `json:"short"`
}

// ExtractVehicles reads comma-separated vehicle records from r and writes
// Rowid, Timestamp, Anonymized_Vehicle_number and Vehicle_type to w. Lines
// with fewer than 4 fields are dropped.
func ExtractVehicles(ctx context.Context, r io.Reader, w io.Writer, opts ExtractOptions) (ExtractStats, error) {
	return extractDelimited(ctx, "csv", r, w, ',', opts, func(fields []string) ([]string, bool) {
		rec, ok := parseVehicle(fields)
		return rec.Fields(), ok
	})
}

// ExtractPlazas reads tab-separated plaza records from r and writes the axle
// count, plaza id and plaza code (fields 4, 5, 6) to w. Lines with fewer than
// 7 fields are dropped.
func ExtractPlazas(ctx context.Context, r io.Reader, w io.Writer, opts ExtractOptions) (ExtractStats, error) {
	return extractDelimited(ctx, "tsv", r, w, '\t', opts, func(fields []string) ([]string, bool) {
		rec, ok := parsePlaza(fields)
		return rec.Fields(), ok
	})
}

func extractDelimited(
	ctx context.Context,
	kind string,
	r io.Reader,
	w io.Writer,
	delim rune,
	opts ExtractOptions,
	parse func([]string) ([]string, bool),
) (ExtractStats, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", kind))
	var stats ExtractStats

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{Delimiter: delim, LazyQuotes: true})
	cw := csv.NewWriter(w)

	for row := range rowCh {
		out, ok := parse(row.Fields)
		if !ok {
			if opts.Strict {
				cancel()
				_ = fetcher.Drain(errCh)
				return stats, eris.Wrapf(ErrMalformedLine, "extract %s: line %d has %d fields", kind, row.Num, len(row.Fields))
			}
			stats.Dropped++
			log.Debug("dropping short line", zap.Int("line", row.Num), zap.Int("fields", len(row.Fields)))
			continue
		}
		if err := cw.Write(out); err != nil {
			cancel()
			_ = fetcher.Drain(errCh)
			return stats, eris.Wrapf(err, "extract %s: write row", kind)
		}
		stats.Rows++
	}
	if err := fetcher.Drain(errCh); err != nil {
		return stats, eris.Wrapf(err, "extract %s: read", kind)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, eris.Wrapf(err, "extract %s: flush", kind)
	}

	if stats.Dropped > 0 {
		log.Warn("dropped malformed lines", zap.Int("dropped", stats.Dropped), zap.Int("rows", stats.Rows))
	}
	return stats, nil
}

// ExtractPayments reads the fixed-width payment file from r and writes the
// payment code [58,61) and vehicle code [62,67) of every line to w. Short
// lines yield truncated or empty values and are counted in Short.
func ExtractPayments(ctx context.Context, r io.Reader, w io.Writer, opts ExtractOptions) (ExtractStats, error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", "txt"))
	var stats ExtractStats

	br := bufio.NewReader(r)
	cw := csv.NewWriter(w)

	for num := 1; ; num++ {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "extract txt: context cancelled")
		}

		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return stats, eris.Wrapf(readErr, "extract txt: read line %d", num)
		}
		if line == "" && readErr == io.EOF {
			break
		}

		rec, short := parsePayment(line)
		if short {
			if opts.Strict {
				return stats, eris.Wrapf(ErrMalformedLine, "extract txt: line %d has %d characters",
					num, len([]rune(strings.TrimRight(line, "\r\n"))))
			}
			stats.Short++
		}
		if err := cw.Write(rec.Fields()); err != nil {
			return stats, eris.Wrap(err, "extract txt: write row")
		}
		stats.Rows++

		if readErr == io.EOF {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, eris.Wrap(err, "extract txt: flush")
	}

	if stats.Short > 0 {
		log.Warn("short fixed-width lines", zap.Int("short", stats.Short), zap.Int("rows", stats.Rows))
	}
	return stats, nil
}
