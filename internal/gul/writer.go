package gul

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/gulprep/internal/logging"
)

// DefaultChunkSize is the number of rows written between flushes.
const DefaultChunkSize = 100000

// Artifact names an output table. The file name is the artifact plus ".csv".
type Artifact string

const (
	ArtifactItems        Artifact = "items"
	ArtifactCoverages    Artifact = "coverages"
	ArtifactComplexItems Artifact = "complex_items"
	ArtifactInputs       Artifact = "gul_inputs"
)

// FileName returns the artifact's file name.
func (a Artifact) FileName() string {
	return string(a) + ".csv"
}

// Options control Write.
type Options struct {
	ChunkSize int // rows per flush; DefaultChunkSize if zero
	Workers   int // parallel writers available; runtime.NumCPU() if zero

	// Append keeps existing file content and skips the header of non-empty
	// files. Without it every artifact is truncated and rewritten.
	Append bool

	// WriteInputsTable also writes the full gul_inputs table.
	WriteInputsTable bool
}

// File describes one written artifact.
type File struct {
	Artifact Artifact      `json:"artifact"`
	Path     string        `json:"path"`
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// WriteError reports the artifact that failed to write. Partial files are
// left in place.
type WriteError struct {
	Artifact Artifact
	Path     string
	Err      error
}

func (e *WriteError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("write %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("write %s (%s): %v", e.Artifact, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// job writes one artifact from its own copy of the items.
type job struct {
	artifact Artifact
	header   []string
	row      func(it *Item) []string
	dedupe   bool
}

func jobs(tbl *Table, opts Options) []job {
	items := job{
		artifact: ArtifactItems,
		header:   []string{"item_id", "coverage_id", "areaperil_id", "vulnerability_id", "group_id"},
		row: func(it *Item) []string {
			return []string{u32(it.ItemID), u32(it.CoverageID), i64(it.AreaPerilID), i64(it.VulnerabilityID), u32(it.GroupID)}
		},
		dedupe: true,
	}
	if tbl.Complex {
		items.header = append(items.header, "model_data")
		base := items.row
		items.row = func(it *Item) []string {
			return append(base(it), it.ModelData)
		}
	}

	out := []job{
		items,
		{
			artifact: ArtifactCoverages,
			header:   []string{"coverage_id", "tiv"},
			row: func(it *Item) []string {
				return []string{u32(it.CoverageID), f64(it.TIV)}
			},
			dedupe: true,
		},
	}

	if tbl.Complex {
		out = append(out, job{
			artifact: ArtifactComplexItems,
			header:   []string{"item_id", "coverage_id", "model_data", "group_id"},
			row: func(it *Item) []string {
				return []string{u32(it.ItemID), u32(it.CoverageID), it.ModelData, u32(it.GroupID)}
			},
			dedupe: true,
		})
	}

	if opts.WriteInputsTable {
		out = append(out, job{
			artifact: ArtifactInputs,
			header:   inputsHeader,
			row:      inputsRow,
		})
	}

	return out
}

var inputsHeader = []string{
	"loc_idx", "locnumber", "accnumber", "portnumber", "condnumber",
	"peril_id", "coverage_type_id", "areaperil_id", "vulnerability_id", "model_data", "is_bi_coverage",
	"tiv", "deductible", "deductible_min", "deductible_max", "limit",
	"ded_code", "ded_type", "lim_code", "lim_type",
	"group_id", "item_id", "coverage_id", "agg_id", "layer_id", "summary_id", "summaryset_id",
}

func inputsRow(it *Item) []string {
	return []string{
		strconv.Itoa(it.LocIndex), it.LocationID, it.AccountID, it.PortfolioID, u32(it.ConditionID),
		it.PerilID, strconv.Itoa(int(it.CoverageType)), i64(it.AreaPerilID), i64(it.VulnerabilityID), it.ModelData, strconv.FormatBool(it.IsBI),
		f64(it.TIV), f64(it.Deductible), f64(it.DeductibleMin), f64(it.DeductibleMax), f64(it.Limit),
		u8(it.DedCode), u8(it.DedType), u8(it.LimCode), u8(it.LimType),
		u32(it.GroupID), u32(it.ItemID), u32(it.CoverageID), u32(it.AggID), u32(it.LayerID), u32(it.SummaryID), u32(it.SummarysetID),
	}
}

func u8(v uint8) string   { return strconv.FormatUint(uint64(v), 10) }
func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
func i64(v int64) string  { return strconv.FormatInt(v, 10) }

// f64 formats the shortest representation that parses back to v.
func f64(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Write serializes tbl into dir and returns the written files in job
// order: items, coverages, then complex items and the inputs table when
// present.
//
// Artifacts are written concurrently when the table has more rows than one
// chunk and there are at least as many workers as artifacts; otherwise one
// after another. The first failure cancels the remaining writers and is
// returned as a *WriteError.
func Write(ctx context.Context, tbl *Table, dir string, opts Options) ([]File, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &WriteError{Path: dir, Err: err}
	}

	todo := jobs(tbl, opts)
	files := make([]File, len(todo))
	parallel := shouldParallelize(len(tbl.Items), opts.ChunkSize, opts.Workers, len(todo))

	log := logging.FromContext(ctx)
	log.Debug("writing GUL input files",
		"dir", dir,
		"rows", len(tbl.Items),
		"artifacts", len(todo),
		"parallel", parallel,
	)

	if !parallel {
		for i, j := range todo {
			f, err := j.write(ctx, tbl.Items, dir, opts)
			if err != nil {
				return nil, err
			}
			files[i] = f
		}
		return files, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(todo), opts.Workers))
	for i, j := range todo {
		items := slices.Clone(tbl.Items)
		g.Go(func() error {
			f, err := j.write(gctx, items, dir, opts)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// shouldParallelize reports whether artifacts are written concurrently: only
// tables larger than one chunk, and only with a worker per artifact.
func shouldParallelize(rows, chunkSize, workers, artifacts int) bool {
	return rows > chunkSize && workers >= artifacts
}

func (j job) write(ctx context.Context, items []Item, dir string, opts Options) (File, error) {
	start := time.Now()
	path := filepath.Join(dir, j.artifact.FileName())
	fail := func(err error) (File, error) {
		return File{}, &WriteError{Artifact: j.artifact, Path: path, Err: err}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	writeHeader := true
	if opts.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			writeHeader = false
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 256*1024)
	w := csv.NewWriter(bw)

	if writeHeader {
		if err := w.Write(j.header); err != nil {
			return fail(err)
		}
	}

	var seen map[string]struct{}
	if j.dedupe {
		seen = make(map[string]struct{}, len(items))
	}

	rows := 0
	for i := range items {
		rec := j.row(&items[i])
		if seen != nil {
			key := strings.Join(rec, "\x00")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}

		if err := w.Write(rec); err != nil {
			return fail(err)
		}
		rows++

		if rows%opts.ChunkSize == 0 {
			if err := flush(w, bw); err != nil {
				return fail(err)
			}
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
		}
	}

	if err := flush(w, bw); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return fail(err)
	}

	d := time.Since(start)
	logging.FromContext(ctx).Debug("artifact written",
		"artifact", string(j.artifact),
		"path", path,
		"rows", rows,
		"duration_ms", d.Milliseconds(),
	)
	return File{Artifact: j.artifact, Path: path, Rows: rows, Duration: d}, nil
}

func flush(w *csv.Writer, bw *bufio.Writer) error {
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
