package tolldata

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tolldata-cli/internal/config"
	"github.com/sells-group/tolldata-cli/internal/fetcher"
	"github.com/sells-group/tolldata-cli/internal/resilience"
)

// Step names, in pipeline order.
const (
	StepDownload    = "download"
	StepUntar       = "untar"
	StepExtractCSV  = "extract-csv"
	StepExtractTSV  = "extract-tsv"
	StepExtractTXT  = "extract-txt"
	StepConsolidate = "consolidate"
	StepTransform   = "transform"
	StepExport      = "export"
	StepLoad        = "load"
)

// StepNames lists every step in pipeline order.
func StepNames() []string {
	return []string{
		StepDownload, StepUntar,
		StepExtractCSV, StepExtractTSV, StepExtractTXT,
		StepConsolidate, StepTransform,
		StepExport, StepLoad,
	}
}

// ExtractStepNames lists the three independent extractor steps.
func ExtractStepNames() []string {
	return []string{StepExtractCSV, StepExtractTSV, StepExtractTXT}
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step     string         `json:"step"`
	Output   string         `json:"output,omitempty"`
	Rows     int64          `json:"rows"`
	Dropped  int            `json:"dropped"`
	Short    int            `json:"short"`
	Bytes    int64          `json:"bytes,omitempty"`
	Files    []string       `json:"files,omitempty"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StepFunc runs one step.
type StepFunc func(ctx context.Context) (*StepResult, error)

// Options configures Steps.
type Options struct {
	SourceURL string
	Extract   ExtractOptions
	Mismatch  MismatchPolicy
	Transform TransformOptions
	SheetName string
	// Loader is required only by the load step.
	Loader *Loader
}

// OptionsFromConfig builds Options from cfg. The Loader is left nil.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := ParseMismatchPolicy(cfg.Consolidate.Mismatch)
	if err != nil {
		return Options{}, eris.Wrap(err, "steps: consolidate.mismatch")
	}
	return Options{
		SourceURL: cfg.Source.URL,
		Extract:   ExtractOptions{Strict: cfg.Extract.Strict},
		Mismatch:  policy,
		Transform: TransformOptions{Column: VehicleTypeColumn, IndexColumn: cfg.Transform.IndexColumn},
		SheetName: cfg.Export.SheetName,
	}, nil
}

// Steps exposes every pipeline step as a plain method taking only a context.
// It holds no state between calls; all data moves through files in the Layout.
type Steps struct {
	layout  Layout
	fetcher fetcher.Fetcher
	opts    Options
}

// NewSteps creates Steps over layout, downloading with f.
func NewSteps(layout Layout, f fetcher.Fetcher, opts Options) *Steps {
	if opts.Mismatch == "" {
		opts.Mismatch = MismatchError
	}
	if opts.Transform.Column == "" {
		opts.Transform.Column = VehicleTypeColumn
	}
	return &Steps{layout: layout, fetcher: f, opts: opts}
}

// Layout returns the workspace layout.
func (s *Steps) Layout() Layout { return s.layout }

// Lookup returns the step called name.
func (s *Steps) Lookup(name string) (StepFunc, error) {
	switch name {
	case StepDownload:
		return s.Download, nil
	case StepUntar:
		return s.Untar, nil
	case StepExtractCSV:
		return s.ExtractCSV, nil
	case StepExtractTSV:
		return s.ExtractTSV, nil
	case StepExtractTXT:
		return s.ExtractTXT, nil
	case StepConsolidate:
		return s.Consolidate, nil
	case StepTransform:
		return s.Transform, nil
	case StepExport:
		return s.Export, nil
	case StepLoad:
		return s.Load, nil
	default:
		return nil, eris.Errorf("unknown step: %q (valid: %v)", name, StepNames())
	}
}

// Download fetches the source archive into the work directory.
func (s *Steps) Download(ctx context.Context) (*StepResult, error) {
	start := time.Now()
	if err := s.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	dest := s.layout.ArchivePath()
	n, err := s.fetcher.DownloadToFile(ctx, s.opts.SourceURL, dest)
	if err != nil {
		return nil, eris.Wrap(err, "download: fetch archive")
	}

	zap.L().Info("download: archive saved",
		zap.String("url", s.opts.SourceURL),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return &StepResult{Step: StepDownload, Output: dest, Bytes: n, Duration: time.Since(start)}, nil
}

// Untar expands the archive into the raw data directory and deletes it. A
// malformed archive is kept and reported as a permanent failure.
func (s *Steps) Untar(ctx context.Context) (*StepResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "untar: context cancelled")
	}
	if err := s.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	archive := s.layout.ArchivePath()
	files, err := fetcher.ExtractTarGz(archive, s.layout.RawDir)
	if err != nil {
		if errors.Is(err, fetcher.ErrMalformedArchive) {
			return nil, resilience.Permanent(eris.Wrapf(err, "untar: %s", archive))
		}
		return nil, eris.Wrapf(err, "untar: %s", archive)
	}

	if err := os.Remove(archive); err != nil {
		return nil, eris.Wrap(err, "untar: remove archive")
	}

	zap.L().Info("untar: archive expanded",
		zap.String("dir", s.layout.RawDir),
		zap.Int("files", len(files)),
	)
	return &StepResult{
		Step:     StepUntar,
		Output:   s.layout.RawDir,
		Rows:     int64(len(files)),
		Files:    files,
		Duration: time.Since(start),
	}, nil
}

type extractFunc func(context.Context, io.Reader, io.Writer, ExtractOptions) (ExtractStats, error)

func (s *Steps) extract(ctx context.Context, step, in, out string, fn extractFunc) (*StepResult, error) {
	start := time.Now()
	if err := s.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	f, err := os.Open(in)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: open input", step)
	}
	defer f.Close() //nolint:errcheck

	var stats ExtractStats
	err = writeAtomic(out, func(w io.Writer) error {
		var fnErr error
		stats, fnErr = fn(ctx, f, w, s.opts.Extract)
		return fnErr
	})
	if err != nil {
		if errors.Is(err, ErrMalformedLine) {
			return nil, resilience.Permanent(eris.Wrap(err, step))
		}
		return nil, eris.Wrap(err, step)
	}

	zap.L().Info("extract: output written",
		zap.String("step", step),
		zap.String("path", out),
		zap.Int("rows", stats.Rows),
		zap.Int("dropped", stats.Dropped),
		zap.Int("short", stats.Short),
	)
	return &StepResult{
		Step:     step,
		Output:   out,
		Rows:     int64(stats.Rows),
		Dropped:  stats.Dropped,
		Short:    stats.Short,
		Duration: time.Since(start),
	}, nil
}

// ExtractCSV reduces the vehicle CSV to its first four fields.
func (s *Steps) ExtractCSV(ctx context.Context) (*StepResult, error) {
	return s.extract(ctx, StepExtractCSV, s.layout.VehiclePath(), s.layout.CSVOutputPath(), ExtractVehicles)
}

// ExtractTSV reduces the toll plaza TSV to fields 4, 5 and 6.
func (s *Steps) ExtractTSV(ctx context.Context) (*StepResult, error) {
	return s.extract(ctx, StepExtractTSV, s.layout.PlazaPath(), s.layout.TSVOutputPath(), ExtractPlazas)
}

// ExtractTXT reduces the fixed-width payment file to its two code fields.
func (s *Steps) ExtractTXT(ctx context.Context) (*StepResult, error) {
	return s.extract(ctx, StepExtractTXT, s.layout.PaymentPath(), s.layout.FixedWidthOutputPath(), ExtractPayments)
}

// Consolidate joins the three reduced files by row position under the
// 9-column header. Row-count and column-count mismatches are permanent failures.
func (s *Steps) Consolidate(ctx context.Context) (*StepResult, error) {
	start := time.Now()

	inputs := []struct {
		name  string
		path  string
		width int
	}{
		{CSVOutputFile, s.layout.CSVOutputPath(), vehicleFields},
		{TSVOutputFile, s.layout.TSVOutputPath(), plazaFields},
		{FixedWidthOutputFile, s.layout.FixedWidthOutputPath(), paymentFields},
	}

	tables := make([]*Table, 0, len(inputs))
	for _, in := range inputs {
		t, err := readTableFile(ctx, in.name, in.path, in.width)
		if err != nil {
			if errors.Is(err, ErrColumnCount) {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}
		tables = append(tables, t)
	}

	out := s.layout.ConsolidatedPath()
	var stats ConsolidateStats
	err := writeAtomic(out, func(w io.Writer) error {
		var cErr error
		stats, cErr = Consolidate(ctx, w, s.layout.Header, s.opts.Mismatch, tables...)
		return cErr
	})
	if err != nil {
		if errors.Is(err, ErrRowCountMismatch) || errors.Is(err, ErrColumnCount) {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	zap.L().Info("consolidate: output written", zap.String("path", out), zap.Int("rows", stats.Rows))
	inputRows := make(map[string]any, len(stats.Inputs))
	for k, v := range stats.Inputs {
		inputRows[k] = v
	}
	return &StepResult{
		Step:     StepConsolidate,
		Output:   out,
		Rows:     int64(stats.Rows),
		Duration: time.Since(start),
		Metadata: map[string]any{"inputs": inputRows, "mismatch": string(s.opts.Mismatch)},
	}, nil
}

func readTableFile(ctx context.Context, name, path string, width int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "consolidate: open %s", name)
	}
	defer f.Close() //nolint:errcheck
	return ReadTable(ctx, name, bufio.NewReader(f), width)
}

// Transform uppercases the vehicle type column of the consolidated table.
func (s *Steps) Transform(ctx context.Context) (*StepResult, error) {
	start := time.Now()
	if err := s.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.layout.ConsolidatedPath())
	if err != nil {
		return nil, eris.Wrap(err, "transform: open input")
	}
	defer f.Close() //nolint:errcheck

	out := s.layout.TransformedPath()
	var stats TransformStats
	err = writeAtomic(out, func(w io.Writer) error {
		var tErr error
		stats, tErr = Transform(ctx, bufio.NewReader(f), w, s.opts.Transform)
		return tErr
	})
	if err != nil {
		if errors.Is(err, ErrMissingColumn) {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	zap.L().Info("transform: output written",
		zap.String("path", out),
		zap.Int("rows", stats.Rows),
		zap.Int("changed", stats.Changed),
	)
	return &StepResult{
		Step:     StepTransform,
		Output:   out,
		Rows:     int64(stats.Rows),
		Duration: time.Since(start),
		Metadata: map[string]any{"changed": stats.Changed},
	}, nil
}

// Export renders the final table as an XLSX workbook next to the CSV.
func (s *Steps) Export(ctx context.Context) (*StepResult, error) {
	start := time.Now()
	f, err := os.Open(s.layout.TransformedPath())
	if err != nil {
		return nil, eris.Wrap(err, "export: open input")
	}
	defer f.Close() //nolint:errcheck

	out := s.layout.XLSXPath()
	rows, err := ExportXLSX(ctx, bufio.NewReader(f), out, s.opts.SheetName)
	if err != nil {
		return nil, err
	}

	zap.L().Info("export: workbook written", zap.String("path", out), zap.Int("rows", rows))
	return &StepResult{Step: StepExport, Output: out, Rows: int64(rows), Duration: time.Since(start)}, nil
}

// Load copies the final table into Postgres, replacing earlier contents.
func (s *Steps) Load(ctx context.Context) (*StepResult, error) {
	start := time.Now()
	if s.opts.Loader == nil {
		return nil, resilience.Permanent(eris.New("load: no database configured"))
	}

	f, err := os.Open(s.layout.TransformedPath())
	if err != nil {
		return nil, eris.Wrap(err, "load: open input")
	}
	defer f.Close() //nolint:errcheck

	n, err := s.opts.Loader.Load(ctx, bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	return &StepResult{Step: StepLoad, Output: s.opts.Loader.Table(), Rows: n, Duration: time.Since(start)}, nil
}

// writeAtomic runs fn against a buffered temp file next to path and renames
// it over path once fn and the flush succeed.
func writeAtomic(path string, fn func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "flush file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "close file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "rename file")
	}
	return nil
}
