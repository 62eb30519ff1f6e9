package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/pipeline/steps"
	"github.com/jonathan/labelscan/internal/types"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds concurrent analyses in AnalyzeBatch.
const DefaultBatchConcurrency = 4

// BatchResult is the outcome of one batch item. Exactly one of Scan and Err
// is set.
type BatchResult struct {
	Index int               `json:"index"`
	Scan  *types.ScanResult `json:"scan,omitempty"`
	Err   error             `json:"-"`
}

// Service runs analyses for a user and persists the results.
type Service struct {
	analyzer         *Analyzer
	scans            types.ScanStore
	profiles         types.ProfileStore
	logger           *zap.Logger
	batchConcurrency int
}

// NewService creates a Service. A concurrency below one uses
// DefaultBatchConcurrency.
func NewService(analyzer *Analyzer, scans types.ScanStore, profiles types.ProfileStore, logger *zap.Logger, batchConcurrency int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchConcurrency < 1 {
		batchConcurrency = DefaultBatchConcurrency
	}
	return &Service{
		analyzer:         analyzer,
		scans:            scans,
		profiles:         profiles,
		logger:           logger,
		batchConcurrency: batchConcurrency,
	}
}

// Analyze loads the user's profile while the label is normalized, finishes
// the analysis and saves the scan once. Nothing is saved on failure or
// cancellation.
func (s *Service) Analyze(ctx context.Context, userID uuid.UUID, in AnalyzeInput, onProgress ProgressCallback) (*types.ScanResult, error) {
	tracker := steps.NewTracker()
	g, gCtx := errgroup.WithContext(ctx)

	var profile types.HealthProfile
	var label *types.NormalizedLabel
	var mu sync.Mutex

	g.Go(func() error {
		p, err := s.profiles.GetProfile(gCtx, userID)
		if err != nil {
			return fmt.Errorf("failed to load health profile: %w", err)
		}
		tracker.Complete(steps.StageLoadProfile)
		mu.Lock()
		profile = p
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		l, err := s.analyzer.normalize(gCtx, tracker, in, onProgress)
		if err != nil {
			return err
		}
		mu.Lock()
		label = l
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	scan, err := s.analyzer.finish(ctx, tracker, in, label, profile, onProgress)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, tracker, userID, scan, onProgress)
}

// AnalyzeBatch analyzes several labels against one profile snapshot. Items
// are independent: one failure does not affect the others. Results are in
// input order.
func (s *Service) AnalyzeBatch(ctx context.Context, userID uuid.UUID, inputs []AnalyzeInput) ([]BatchResult, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load health profile: %w", err)
	}

	results := make([]BatchResult, len(inputs))
	p := pool.New().WithMaxGoroutines(s.batchConcurrency)
	for i, in := range inputs {
		p.Go(func() {
			results[i] = s.analyzeOne(ctx, i, userID, in, profile)
		})
	}
	p.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info("batch analysis finished",
		zap.Int("items", len(inputs)),
		zap.Int("failed", failed),
	)
	return results, nil
}

func (s *Service) analyzeOne(ctx context.Context, index int, userID uuid.UUID, in AnalyzeInput, profile types.HealthProfile) BatchResult {
	tracker := steps.NewTracker()
	label, err := s.analyzer.normalize(ctx, tracker, in, nil)
	if err != nil {
		return BatchResult{Index: index, Err: err}
	}
	scan, err := s.analyzer.finish(ctx, tracker, in, label, profile, nil)
	if err != nil {
		return BatchResult{Index: index, Err: err}
	}
	saved, err := s.save(ctx, tracker, userID, scan, nil)
	if err != nil {
		return BatchResult{Index: index, Err: err}
	}
	return BatchResult{Index: index, Scan: saved}
}

func (s *Service) save(ctx context.Context, tracker *steps.Tracker, userID uuid.UUID, scan *types.ScanResult, onProgress ProgressCallback) (*types.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tracker.Begin(steps.StageSave); err != nil {
		return nil, err
	}

	scan.UserID = userID
	id, err := s.scans.SaveScan(ctx, scan)
	if err != nil {
		return nil, fmt.Errorf("failed to save scan: %w", err)
	}
	scan.ID = id
	tracker.Complete(steps.StageSave)

	s.logger.Info("scan saved",
		zap.String("scan_id", id.String()),
		zap.String("risk", scan.SummaryRisk.String()),
		zap.Int("ingredients", len(scan.Ingredients)),
	)
	if onProgress != nil {
		onProgress(ProgressEvent{
			Step:     steps.StageSave,
			Category: steps.CategoryOf(steps.StageSave),
			Message:  "Scan saved",
			ScanID:   id.String(),
		})
	}
	return scan, nil
}
