package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/drillplan/internal/config"
	"github.com/JonMunkholm/drillplan/internal/logging"
	"github.com/JonMunkholm/drillplan/internal/store"
)

const (
	// DefaultHistoryLimit is used when History is called with limit <= 0.
	DefaultHistoryLimit = 20

	// MaxHistoryLimit caps a single History page.
	MaxHistoryLimit = 100

	// historyWriteTimeout bounds recording a run after the import finished.
	historyWriteTimeout = 5 * time.Second
)

// ServiceStore is the persistence the Service needs: the pipeline's Store
// plus import history.
type ServiceStore interface {
	Store
	RecordImportRun(ctx context.Context, run store.ImportRun) (store.ImportRun, error)
	ListImportRuns(ctx context.Context, ownerID string, limit int) ([]store.ImportRun, error)
}

// Request describes one import.
type Request struct {
	Owner  string
	Source string // file name or client label, recorded in history
	Rows   []RawRow
	DryRun bool
	Policy Policy // overrides the service default when set
}

// Service wraps Run with admission control, a per-import deadline, a row
// cap, and history recording.
type Service struct {
	store   ServiceStore
	limiter *Limiter

	policy            Policy
	timeout           time.Duration
	maxRows           int
	maxFileSize       int64
	parallelThreshold int
}

// NewService builds a Service from the import configuration.
func NewService(st ServiceStore, cfg config.ImportConfig) (*Service, error) {
	policy, err := ParsePolicy(cfg.BatchPolicy)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:             st,
		limiter:           NewLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		policy:            policy,
		timeout:           cfg.Timeout,
		maxRows:           cfg.MaxRows,
		maxFileSize:       cfg.MaxFileSize,
		parallelThreshold: cfg.ParallelThreshold,
	}, nil
}

// MaxFileSize returns the configured upload limit in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.maxFileSize
}

// MaxRows returns the configured row cap; zero means unlimited.
func (s *Service) MaxRows() int {
	return s.maxRows
}

// ImportRows runs the pipeline for already-decoded rows.
func (s *Service) ImportRows(ctx context.Context, req Request) (*ImportResult, error) {
	if req.Owner == "" {
		return nil, ErrMissingOwner
	}
	if s.maxRows > 0 && len(req.Rows) > s.maxRows {
		return nil, fmt.Errorf("%w: %d rows, limit is %d", ErrTooManyRows, len(req.Rows), s.maxRows)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	return s.run(ctx, req)
}

// run executes one import. The caller holds a limiter slot.
func (s *Service) run(ctx context.Context, req Request) (*ImportResult, error) {
	policy := req.Policy
	if policy == "" {
		policy = s.policy
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	importID := uuid.NewString()
	logger := logging.WithFields(ctx,
		"import_id", importID,
		"owner_id", req.Owner,
		"source", req.Source,
	)
	logger.Info("import started",
		"rows", len(req.Rows),
		"policy", policy,
		"dry_run", req.DryRun,
	)

	start := time.Now()
	result, err := Run(ctx, s.store, req.Owner, req.Rows, Options{
		Policy:            policy,
		DryRun:            req.DryRun,
		ParallelThreshold: s.parallelThreshold,
	})
	duration := time.Since(start)
	if err != nil {
		logger.Error("import failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	logger.Info("import completed",
		"imported", result.Imported,
		"skipped", result.Skipped,
		"failed", result.Failed(),
		"duration_ms", duration.Milliseconds(),
	)

	if !req.DryRun {
		s.recordRun(ctx, store.ImportRun{
			ID:         importID,
			OwnerID:    req.Owner,
			Source:     req.Source,
			Policy:     string(policy),
			TotalRows:  result.TotalRows,
			Imported:   result.Imported,
			Skipped:    result.Skipped,
			Failed:     result.Failed(),
			DurationMs: duration.Milliseconds(),
		})
	}

	return result, nil
}

// recordRun stores the run summary. Failures are logged, not returned:
// the drills are already committed.
func (s *Service) recordRun(ctx context.Context, run store.ImportRun) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	if _, err := s.store.RecordImportRun(ctx, run); err != nil {
		logging.WithFields(ctx, "import_id", run.ID).Warn("failed to record import history", "error", err)
	}
}

// ImportFile decodes a CSV or XLSX upload and imports it. The import slot
// is taken before decoding, so concurrent uploads are bounded as a whole.
func (s *Service) ImportFile(ctx context.Context, owner, filename string, r io.Reader, dryRun bool) (*ImportResult, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	rows, err := DecodeFile(filename, r, s.maxFileSize, s.maxRows)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, Request{
		Owner:  owner,
		Source: filename,
		Rows:   rows,
		DryRun: dryRun,
	})
}

// Preview reports what importing the file would do without writing anything.
func (s *Service) Preview(ctx context.Context, owner, filename string, r io.Reader) (*ImportResult, error) {
	return s.ImportFile(ctx, owner, filename, r, true)
}

// History returns the owner's most recent imports, newest first.
func (s *Service) History(ctx context.Context, owner string, limit int) ([]store.ImportRun, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.ListImportRuns(ctx, owner, limit)
}

// LimiterStatus reports import slot occupancy.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until in-flight imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
