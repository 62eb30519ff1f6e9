// Package steps defines the stages of a label analysis and the ordering
// constraints between them.
package steps

import (
	"fmt"
	"sort"
	"sync"
)

// Stage names
const (
	StageLoadProfile = "load_profile"
	StageNormalize   = "normalize_label"
	StageAssess      = "assess_risk"
	StageSummarize   = "compose_summary"
	StageSave        = "save_scan"
)

// Stage categories
const (
	CategoryInput       = "input"
	CategoryAnalysis    = "analysis"
	CategoryPersistence = "persistence"
)

// StageDefinition defines metadata for a pipeline stage
type StageDefinition struct {
	Name         string
	Category     string
	Dependencies []string
}

// Registry holds all stage definitions
var Registry = map[string]StageDefinition{
	StageLoadProfile: {
		Name:         StageLoadProfile,
		Category:     CategoryInput,
		Dependencies: []string{},
	},
	StageNormalize: {
		Name:         StageNormalize,
		Category:     CategoryInput,
		Dependencies: []string{},
	},
	StageAssess: {
		Name:         StageAssess,
		Category:     CategoryAnalysis,
		Dependencies: []string{StageNormalize},
	},
	StageSummarize: {
		Name:         StageSummarize,
		Category:     CategoryAnalysis,
		Dependencies: []string{StageAssess},
	},
	StageSave: {
		Name:         StageSave,
		Category:     CategoryPersistence,
		Dependencies: []string{StageSummarize},
	},
}

// CategoryOf returns the category of a stage, or "" for unknown stages.
func CategoryOf(stage string) string {
	return Registry[stage].Category
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Stage               string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s: missing dependencies: %v", e.Stage, e.MissingDependencies)
}

// Tracker records completed stages of one analysis. It is safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	completed map[string]bool
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{completed: make(map[string]bool)}
}

// Begin checks that every dependency of stage has completed.
func (t *Tracker) Begin(stage string) error {
	def, ok := Registry[stage]
	if !ok {
		return fmt.Errorf("unknown stage: %s", stage)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var missing []string
	for _, dep := range def.Dependencies {
		if !t.completed[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{Stage: stage, MissingDependencies: missing}
	}
	return nil
}

// Complete marks stage as done.
func (t *Tracker) Complete(stage string) {
	t.mu.Lock()
	t.completed[stage] = true
	t.mu.Unlock()
}

// Completed returns the completed stages in sorted order.
func (t *Tracker) Completed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.completed))
	for stage := range t.completed {
		out = append(out, stage)
	}
	sort.Strings(out)
	return out
}
