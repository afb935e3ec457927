package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/fatih/color"
)

var tableHeader = []string{"Outcome", "Bandwidth", "Form", "Estimate", "Std. Error", "95% CI", "p-value", "N"}

func tableRow(r domain.ModelResult) []string {
	return []string{
		r.Outcome.Label(),
		fmt.Sprintf("%d", r.Bandwidth),
		r.FunctionalForm,
		fmt.Sprintf("%.3f", r.Estimate),
		fmt.Sprintf("%.3f", r.StdErr),
		fmt.Sprintf("[%.3f, %.3f]", r.CILow, r.CIHigh),
		formatP(r.PValue),
		fmt.Sprintf("%d", r.Observations),
	}
}

func formatP(p float64) string {
	if p < 0.001 {
		return "<0.001"
	}
	return fmt.Sprintf("%.3f", p)
}

// MarkdownTable renders results as a GitHub-flavored markdown table.
// Significant estimates are bold.
func MarkdownTable(results []domain.ModelResult) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(tableHeader, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(tableHeader)) + "\n")
	for _, r := range results {
		row := tableRow(r)
		if r.Significant {
			row[3] = "**" + row[3] + "**"
		}
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return b.String()
}

// WriteTerminalTable prints results as an aligned table. Significant rows
// are green; intervals that cross zero are dimmed.
func WriteTerminalTable(w io.Writer, results []domain.ModelResult) {
	rows := make([][]string, len(results))
	widths := make([]int, len(tableHeader))
	for i, h := range tableHeader {
		widths[i] = len(h)
	}
	for i, r := range results {
		rows[i] = tableRow(r)
		for j, cell := range rows[i] {
			widths[j] = max(widths[j], len(cell))
		}
	}

	header := color.New(color.Bold)
	significant := color.New(color.FgGreen)
	dim := color.New(color.FgHiBlack)

	header.Fprintln(w, pad(tableHeader, widths))
	for i, r := range results {
		line := pad(rows[i], widths)
		if r.Significant {
			significant.Fprintln(w, line)
		} else {
			dim.Fprintln(w, line)
		}
	}
}

func pad(cells []string, widths []int) string {
	out := make([]string, len(cells))
	for i, c := range cells {
		if i == 0 || i == 2 {
			out[i] = fmt.Sprintf("%-*s", widths[i], c)
		} else {
			out[i] = fmt.Sprintf("%*s", widths[i], c)
		}
	}
	return strings.Join(out, "  ")
}
