package tolldata

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

// ExportXLSX copies the CSV table read from r, header included, into a
// single-sheet workbook at path. Every cell is written as a string. Returns
// the number of data rows written.
func ExportXLSX(ctx context.Context, r io.Reader, path, sheetName string) (int, error) {
	if sheetName == "" {
		sheetName = "transformed_data"
	}
	sheetName = sliceRunes([]rune(sheetName), 0, maxSheetName)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return 0, eris.Wrapf(err, "export: add sheet %q", sheetName)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows := -1 // header is not a data row
	for {
		if err := ctx.Err(); err != nil {
			return 0, eris.Wrap(err, "export: context cancelled")
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, eris.Wrapf(err, "export: read row %d", rows+2)
		}
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
		rows++
	}
	if rows < 0 {
		rows = 0
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return 0, eris.Wrap(err, "export: save workbook")
	}
	tmpName := tmp.Name()
	if err := f.Write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, eris.Wrap(err, "export: save workbook")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, eris.Wrap(err, "export: close workbook")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, eris.Wrap(err, "export: rename workbook")
	}
	return rows, nil
}
