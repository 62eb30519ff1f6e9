package risk

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jonathan/labelscan/internal/textnorm"
	"github.com/jonathan/labelscan/internal/types"
)

//go:embed tables.json
var defaultTablesJSON []byte

// TermRule is one condition-table entry: an ingredient term and the level it
// carries for the condition.
type TermRule struct {
	Term  string          `json:"term"`
	Level types.RiskLevel `json:"level"`
}

// Condition groups the risky terms for one chronic condition.
type Condition struct {
	Name    string     `json:"name"`
	Aliases []string   `json:"aliases"`
	Terms   []TermRule `json:"terms"`
}

// Preference lists the ingredients that conflict with a dietary preference.
type Preference struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	Conflicts []string `json:"conflicts"`
}

// Tables is the static knowledge the engine matches against.
type Tables struct {
	Conditions  []Condition  `json:"conditions"`
	Preferences []Preference `json:"preferences"`
}

// LoadTables parses and validates rule tables from JSON.
func LoadTables(data []byte) (*Tables, error) {
	var t Tables
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse risk tables: %w", err)
	}
	for i, c := range t.Conditions {
		if len(c.Aliases) == 0 {
			return nil, fmt.Errorf("condition %d (%s) has no aliases", i, c.Name)
		}
		for _, term := range c.Terms {
			if textnorm.Fold(term.Term) == "" {
				return nil, fmt.Errorf("condition %s has an empty term", c.Name)
			}
			if term.Level == types.RiskLow {
				return nil, fmt.Errorf("condition %s term %q has level Low", c.Name, term.Term)
			}
		}
	}
	for i, p := range t.Preferences {
		if len(p.Aliases) == 0 {
			return nil, fmt.Errorf("preference %d (%s) has no aliases", i, p.Name)
		}
	}
	return &t, nil
}

// DefaultTables returns the embedded rule tables.
func DefaultTables() *Tables {
	t, err := LoadTables(defaultTablesJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded risk tables are invalid: %v", err))
	}
	return t
}

// lookupCondition finds the table entry a profile entry refers to.
func (t *Tables) lookupCondition(entry string) *Condition {
	for i := range t.Conditions {
		if matchesAlias(entry, t.Conditions[i].Aliases) {
			return &t.Conditions[i]
		}
	}
	return nil
}

func (t *Tables) lookupPreference(entry string) *Preference {
	for i := range t.Preferences {
		if matchesAlias(entry, t.Preferences[i].Aliases) {
			return &t.Preferences[i]
		}
	}
	return nil
}

// matchesAlias accepts an entry equal to an alias or containing it as a
// phrase ("type 2 diabetes" refers to "diabetes").
func matchesAlias(entry string, aliases []string) bool {
	for _, alias := range aliases {
		if textnorm.ContainsPhrase(entry, alias) {
			return true
		}
	}
	return false
}
