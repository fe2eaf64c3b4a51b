// Package tolldata implements the toll data ETL steps: archive download and
// expansion, the three field extractors, consolidation, and the final
// transform, plus the optional XLSX export and Postgres load.
package tolldata

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tolldata-cli/internal/config"
)

// Intermediate and final file names.
const (
	CSVOutputFile          = "csv_data.csv"
	TSVOutputFile          = "tsv_data.csv"
	FixedWidthOutputFile   = "fixed_width_data.csv"
	ConsolidatedOutputFile = "extracted_data.csv"
	TransformedOutputFile  = "transformed_data.csv"
	XLSXOutputFile         = "transformed_data.xlsx"
)

// VehicleTypeColumn is the column uppercased by the transformer.
const VehicleTypeColumn = "Vehicle_type"

// DefaultHeader returns the 9-column header of the consolidated table.
func DefaultHeader() []string {
	return []string{
		"Rowid",
		"Timestamp",
		"Anonymized_Vehicle_number",
		VehicleTypeColumn,
		"Number_of_axles",
		"Tollplaza_id",
		"Tollplaza_code",
		"Type_of_Payment code",
		"Vehicle_Code",
	}
}

// Layout is the on-disk arrangement of one pipeline workspace. It is passed
// to every step explicitly.
type Layout struct {
	WorkDir        string
	RawDir         string
	ExtractedDir   string
	TransformedDir string
	ArchiveName    string
	VehicleFile    string
	PlazaFile      string
	PaymentFile    string
	Header         []string
}

// NewLayout resolves the configured paths. Relative directories are joined
// onto WorkDir.
func NewLayout(paths config.PathsConfig, archiveName string) Layout {
	work := paths.WorkDir
	if work == "" {
		work = "."
	}
	resolve := func(dir, def string) string {
		if dir == "" {
			dir = def
		}
		if filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(work, dir)
	}
	orDefault := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}

	return Layout{
		WorkDir:        work,
		RawDir:         resolve(paths.RawDir, "raw_data"),
		ExtractedDir:   resolve(paths.ExtractedDir, "extracted_data"),
		TransformedDir: resolve(paths.TransformedDir, "transformed_data"),
		ArchiveName:    orDefault(archiveName, "tolldata.tgz"),
		VehicleFile:    orDefault(paths.VehicleFile, "vehicle-data.csv"),
		PlazaFile:      orDefault(paths.PlazaFile, "tollplaza-data.tsv"),
		PaymentFile:    orDefault(paths.PaymentFile, "payment-data.txt"),
		Header:         DefaultHeader(),
	}
}

// ArchivePath is where the downloaded archive is written.
func (l Layout) ArchivePath() string { return filepath.Join(l.WorkDir, l.ArchiveName) }

// VehiclePath is the raw comma-separated source.
func (l Layout) VehiclePath() string { return filepath.Join(l.RawDir, l.VehicleFile) }

// PlazaPath is the raw tab-separated source.
func (l Layout) PlazaPath() string { return filepath.Join(l.RawDir, l.PlazaFile) }

// PaymentPath is the raw fixed-width source.
func (l Layout) PaymentPath() string { return filepath.Join(l.RawDir, l.PaymentFile) }

func (l Layout) CSVOutputPath() string { return filepath.Join(l.ExtractedDir, CSVOutputFile) }

func (l Layout) TSVOutputPath() string { return filepath.Join(l.ExtractedDir, TSVOutputFile) }

func (l Layout) FixedWidthOutputPath() string {
	return filepath.Join(l.ExtractedDir, FixedWidthOutputFile)
}

func (l Layout) ConsolidatedPath() string {
	return filepath.Join(l.ExtractedDir, ConsolidatedOutputFile)
}

func (l Layout) TransformedPath() string {
	return filepath.Join(l.TransformedDir, TransformedOutputFile)
}

func (l Layout) XLSXPath() string { return filepath.Join(l.TransformedDir, XLSXOutputFile) }

// EnsureDirs creates the work, raw, extracted and transformed directories.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.WorkDir, l.RawDir, l.ExtractedDir, l.TransformedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "layout: create %s", dir)
		}
	}
	return nil
}
