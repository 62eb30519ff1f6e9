// Package pipeline orchestrates a label analysis: normalization, risk
// assessment and summary composition, followed by persistence.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/parsing"
	"github.com/jonathan/labelscan/internal/pipeline/steps"
	"github.com/jonathan/labelscan/internal/risk"
	"github.com/jonathan/labelscan/internal/summary"
	"github.com/jonathan/labelscan/internal/types"
	"go.uber.org/zap"
)

// ProgressEvent represents a progress update during an analysis
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	ScanID   string `json:"scan_id,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// AnalyzeInput is one label to analyze. The hints may be empty.
type AnalyzeInput struct {
	RawText         string
	ProductNameHint string
	LanguageHint    string
}

// Analyzer runs the analysis stages. It holds no per-scan state and may be
// shared between goroutines.
type Analyzer struct {
	normalizer *parsing.Normalizer
	engine     *risk.Engine
	composer   *summary.Composer
	logger     *zap.Logger
	now        func() time.Time
}

// NewAnalyzer wires the stages around a single Generator. A nil engine uses
// the built-in rule tables.
func NewAnalyzer(gen gateway.Generator, engine *risk.Engine, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = risk.NewEngine(risk.DefaultTables())
	}
	return &Analyzer{
		normalizer: parsing.NewNormalizer(gen, logger),
		engine:     engine,
		composer:   summary.NewComposer(gen, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// emitProgress calls the progress callback if configured
func emitProgress(onProgress ProgressCallback, step, message string, content any) {
	if onProgress != nil {
		onProgress(ProgressEvent{
			Step:     step,
			Category: steps.CategoryOf(step),
			Message:  message,
			Content:  content,
		})
	}
}

// AnalyzeScan turns raw label text into a ScanResult for profile. The
// returned result has no ID; it is assigned when the scan is saved.
//
// Cancellation is checked between stages. Invalid input yields
// *parsing.EmptyInputError and an unreachable model yields
// *gateway.UpstreamUnavailableError; everything else degrades.
func (a *Analyzer) AnalyzeScan(ctx context.Context, in AnalyzeInput, profile types.HealthProfile, onProgress ProgressCallback) (*types.ScanResult, error) {
	tracker := steps.NewTracker()
	label, err := a.normalize(ctx, tracker, in, onProgress)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, tracker, in, label, profile, onProgress)
}

func (a *Analyzer) normalize(ctx context.Context, tracker *steps.Tracker, in AnalyzeInput, onProgress ProgressCallback) (*types.NormalizedLabel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tracker.Begin(steps.StageNormalize); err != nil {
		return nil, err
	}

	start := time.Now()
	label, err := a.normalizer.Normalize(ctx, types.RawLabelText{Text: in.RawText, DeclaredLanguage: in.LanguageHint})
	if err != nil {
		return nil, err
	}
	tracker.Complete(steps.StageNormalize)

	a.logger.Debug("stage complete",
		zap.String("stage", steps.StageNormalize),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("heuristic", label.Heuristic),
	)
	emitProgress(onProgress, steps.StageNormalize,
		fmt.Sprintf("Read %d ingredients and %d nutrients", len(label.Ingredients), len(label.Nutrients)), label)
	return label, nil
}

func (a *Analyzer) finish(ctx context.Context, tracker *steps.Tracker, in AnalyzeInput, label *types.NormalizedLabel, profile types.HealthProfile, onProgress ProgressCallback) (*types.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tracker.Begin(steps.StageAssess); err != nil {
		return nil, err
	}
	risks := a.engine.Assess(profile, label.Ingredients)
	tracker.Complete(steps.StageAssess)
	emitProgress(onProgress, steps.StageAssess,
		fmt.Sprintf("Assessed %d ingredients, %d flagged", len(risks), len(risk.FlaggedReasons(risks))), risks)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tracker.Begin(steps.StageSummarize); err != nil {
		return nil, err
	}
	start := time.Now()
	sum := a.composer.Compose(ctx, risks, profile, in.LanguageHint)
	tracker.Complete(steps.StageSummarize)
	a.logger.Debug("stage complete",
		zap.String("stage", steps.StageSummarize),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("fallback", sum.Fallback),
	)
	emitProgress(onProgress, steps.StageSummarize, fmt.Sprintf("Overall risk %s", sum.Risk), sum)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	productName := strings.TrimSpace(in.ProductNameHint)
	if productName == "" {
		productName = label.ProductName
	}

	return &types.ScanResult{
		ProductName:        productName,
		RawText:            in.RawText,
		Language:           strings.TrimSpace(in.LanguageHint),
		Ingredients:        label.Ingredients,
		Nutrients:          label.Nutrients,
		IngredientRisks:    risks,
		SummaryExplanation: sum.Explanation,
		SummaryRisk:        sum.Risk,
		CreatedAt:          a.now().UTC(),
	}, nil
}
