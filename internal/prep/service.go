// Package prep runs GUL input preparation end to end: resolve the exposure
// profile, load exposure and keys, build the items, write the output tables
// and optionally archive the run.
package prep

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/gulprep/internal/config"
	"github.com/JonMunkholm/gulprep/internal/exposure"
	"github.com/JonMunkholm/gulprep/internal/gul"
	"github.com/JonMunkholm/gulprep/internal/logging"
	"github.com/JonMunkholm/gulprep/internal/metrics"
	"github.com/JonMunkholm/gulprep/internal/profile"
	"github.com/JonMunkholm/gulprep/internal/store"
)

// Archiver stores a finished run. *store.Store satisfies it.
type Archiver interface {
	SaveRun(ctx context.Context, run store.Run, items []gul.Item) error
}

// Request describes one preparation run. Empty ProfilePath and TargetDir
// fall back to the service configuration.
type Request struct {
	ExposurePath string `json:"exposure_path"`
	KeysPath     string `json:"keys_path"`
	ProfilePath  string `json:"profile_path,omitempty"`
	TargetDir    string `json:"target_dir,omitempty"`
}

// Result summarises a finished run.
type Result struct {
	RunID     string        `json:"run_id"`
	Items     int           `json:"items"`
	Complex   bool          `json:"complex"`
	TargetDir string        `json:"target_dir"`
	Files     []gul.File    `json:"files"`
	Stats     gul.Stats     `json:"stats"`
	Duration  time.Duration `json:"duration"`
}

// Service runs preparations. It is safe for concurrent use; runs share no
// mutable state.
type Service struct {
	cfg      config.PrepConfig
	profile  *profile.Resolved
	metrics  *metrics.Metrics
	archiver Archiver
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithArchiver stores every successful run with a.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// NewService resolves the configured exposure profile once and returns a
// Service using it for requests that name no profile of their own.
func NewService(cfg config.PrepConfig, opts ...Option) (*Service, error) {
	rp, err := profile.LoadResolved(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, profile: rp}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one preparation. Errors are returned unchanged from the
// failing stage; see MapError for their user-facing form.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	res, err := s.run(ctx, req)
	if err != nil {
		s.metrics.RunFinished(metrics.StatusFailed)
		return nil, err
	}
	s.metrics.RunFinished(metrics.StatusSuccess)
	return res, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, error) {
	if req.ExposurePath == "" || req.KeysPath == "" {
		return nil, &RequestError{Reason: "exposure_path and keys_path are required"}
	}

	targetDir := req.TargetDir
	if targetDir == "" {
		targetDir = s.cfg.TargetDir
	}

	runID := uuid.New()
	start := time.Now()
	log := logging.WithFields(ctx, "run_id", runID.String())
	ctx = logging.WithLogger(ctx, log)

	log.Info("preparation run started",
		"exposure", req.ExposurePath,
		"keys", req.KeysPath,
		"target_dir", targetDir,
	)

	rp := s.profile
	if req.ProfilePath != "" {
		done := logging.Stage(ctx, "resolve_profile", "path", req.ProfilePath)
		var err error
		rp, err = profile.LoadResolved(req.ProfilePath)
		done(err)
		if err != nil {
			return nil, err
		}
	}

	done := logging.Stage(ctx, "load_exposure", "path", req.ExposurePath)
	records, err := exposure.LoadExposureFile(ctx, req.ExposurePath, rp)
	done(err)
	if err != nil {
		return nil, err
	}

	done = logging.Stage(ctx, "load_keys", "path", req.KeysPath)
	keys, err := exposure.LoadKeysFile(ctx, req.KeysPath)
	done(err)
	if err != nil {
		return nil, err
	}

	done = logging.Stage(ctx, "build_gul_inputs", "exposure_rows", len(records), "key_rows", len(keys.Rows))
	tbl, err := gul.Build(ctx, records, keys, rp)
	done(err)
	if err != nil {
		return nil, err
	}
	s.recordBuild(tbl)

	done = logging.Stage(ctx, "write_gul_input_files", "items", len(tbl.Items))
	files, err := gul.Write(ctx, tbl, targetDir, gul.Options{
		ChunkSize:        s.cfg.ChunkSize,
		Workers:          s.cfg.MaxWorkers,
		WriteInputsTable: s.cfg.WriteInputsTable,
	})
	done(err)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		s.metrics.ArtifactWritten(string(f.Artifact), f.Duration)
	}

	if s.archiver != nil {
		done = logging.Stage(ctx, "archive_run")
		err := s.archiver.SaveRun(ctx, store.Run{
			ID:           runID,
			ExposurePath: req.ExposurePath,
			KeysPath:     req.KeysPath,
			TargetDir:    targetDir,
			Complex:      tbl.Complex,
			Items:        len(tbl.Items),
			StartedAt:    start,
			Duration:     time.Since(start),
		}, tbl.Items)
		done(err)
		if err != nil {
			return nil, &ArchiveError{Err: err}
		}
	}

	if abs, err := filepath.Abs(targetDir); err == nil {
		targetDir = abs
	}

	res := &Result{
		RunID:     runID.String(),
		Items:     len(tbl.Items),
		Complex:   tbl.Complex,
		TargetDir: targetDir,
		Files:     files,
		Stats:     tbl.Stats,
		Duration:  time.Since(start),
	}
	log.Info("preparation run completed",
		"items", res.Items,
		"files", len(files),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (s *Service) recordBuild(tbl *gul.Table) {
	s.metrics.ItemsBuilt(len(tbl.Items))
	s.metrics.RowsDropped(metrics.DropUnmatched, tbl.Stats.Unmatched)
	s.metrics.RowsDropped(metrics.DropNoValue, tbl.Stats.DroppedNoValue)
	s.metrics.RowsDropped(metrics.DropZeroTIV, tbl.Stats.DroppedZeroTIV)
}
