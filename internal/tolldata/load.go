package tolldata

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/db"
)

// DefaultLoadTable is the Postgres table the final table is loaded into.
const DefaultLoadTable = "toll_data.transformed"

// Loader bulk-copies the final table into Postgres.
type Loader struct {
	pool  db.Pool
	table pgx.Identifier
}

// NewLoader creates a Loader for table, which may be schema-qualified.
// Unqualified names go to the public schema.
func NewLoader(pool db.Pool, table string) *Loader {
	if table == "" {
		table = DefaultLoadTable
	}
	return &Loader{pool: pool, table: db.SplitTable(table, "public")}
}

// Table returns the sanitized target table name.
func (l *Loader) Table() string { return l.table.Sanitize() }

// Load reads a CSV table with a header row from r and replaces the contents
// of the target table with it. Column names are derived from the header.
func (l *Loader) Load(ctx context.Context, r io.Reader) (int64, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return 0, eris.New("load: empty input")
	}
	if err != nil {
		return 0, eris.Wrap(err, "load: read header")
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = columnName(h, i)
	}

	var rows [][]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrapf(err, "load: read row %d", len(rows)+1)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		rows = append(rows, row)
	}

	n, err := db.ReplaceTable(ctx, l.pool, l.table, columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "load: replace table")
	}

	zap.L().Info("load: table replaced",
		zap.String("table", l.Table()),
		zap.Int64("rows", n),
	)
	return n, nil
}

// columnName maps a header cell to a lower snake_case column name. The
// blank index header becomes "idx".
func columnName(h string, i int) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		if i == 0 {
			return "idx"
		}
		return "col_" + strconv.Itoa(i)
	}
	return strings.Join(strings.Fields(h), "_")
}
