// Package observability provides logging setup and formatted output for the
// CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/labelscan/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 8
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		for _, part := range wrap(line, boxWidth-4) {
			fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, part)
		}
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// wrap splits line into chunks of at most width runes, breaking on spaces
// where possible.
func wrap(line string, width int) []string {
	runes := []rune(line)
	if len(runes) <= width {
		return []string{line}
	}
	var parts []string
	for len(runes) > width {
		cut := width
		for i := width; i > width/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), " "))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// PrintScan outputs a human-readable report of an analyzed label.
func (p *Printer) PrintScan(scan *types.ScanResult) {
	if scan == nil {
		return
	}

	var sb strings.Builder
	name := scan.ProductName
	if name == "" {
		name = "(unnamed product)"
	}
	sb.WriteString(fmt.Sprintf("Product:  %s\n", name))
	sb.WriteString(fmt.Sprintf("Risk:     %s\n", scan.SummaryRisk))
	sb.WriteString("\n")

	if len(scan.IngredientRisks) > 0 {
		sb.WriteString("Ingredients:\n")
		for _, r := range scan.IngredientRisks {
			sb.WriteString(fmt.Sprintf("  %s %s", riskMarker(r.Level), r.Ingredient.Name))
			if len(r.Reasons) > 0 {
				sb.WriteString(fmt.Sprintf(" (%s)", strings.Join(r.Reasons, "; ")))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(scan.Nutrients) > 0 {
		sb.WriteString("Nutrients:\n")
		count := min(len(scan.Nutrients), maxItemsToShow)
		for i := 0; i < count; i++ {
			n := scan.Nutrients[i]
			sb.WriteString(fmt.Sprintf("  • %s: %g", n.Label, n.Value))
			if n.MaxRecommended != nil {
				sb.WriteString(fmt.Sprintf(" (max %g)", *n.MaxRecommended))
			}
			sb.WriteString("\n")
		}
		if len(scan.Nutrients) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(scan.Nutrients)-maxItemsToShow))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(scan.SummaryExplanation)
	p.printBox("LABEL ANALYSIS", sb.String())
}

// PrintScanList outputs one line per stored scan.
func (p *Printer) PrintScanList(items []types.ScanListItem) {
	if len(items) == 0 {
		p.printBox("SCANS", "No scans yet.")
		return
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s  %-6s  %s\n  %s", riskMarker(item.SummaryRisk), item.SummaryRisk,
			item.ProductName, item.ID))
	}
	p.printBox("SCANS", sb.String())
}

// PrintChatReply outputs an assistant answer with its grounding confidence.
func (p *Printer) PrintChatReply(reply string, confidence types.Confidence) {
	p.printBox(fmt.Sprintf("ASSISTANT (%s confidence)", confidence), reply)
}

func riskMarker(level types.RiskLevel) string {
	switch level {
	case types.RiskHigh:
		return "✗"
	case types.RiskMedium:
		return "!"
	default:
		return "✓"
	}
}
