package report

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"date":  func(t time.Time) string { return t.Format(time.DateOnly) },
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"num":   formatNumber,
	"ints":  joinInts,
}).Parse(`# DST and crime: regression discontinuity estimates

_Run {{.RunID}}, generated {{stamp .GeneratedAt}}._

## Data
{{with .Summary}}
The panel has {{.Rows}} daily observations from {{date .FirstDate}} to {{date .LastDate}}
(days {{.MinDays}} to {{.MaxDays}} relative to the spring transition), read from ` + "`{{.Source}}`" + `.
Day 0 is the first day under daylight saving time and is on the treated side.

| Outcome | Pre-cutoff mean | Post-cutoff mean | Pre days | Post days |
| --- | --- | --- | --- | --- |
{{- range .Outcomes}}
| {{.Outcome.Label}} | {{num .PreMean}} | {{num .PostMean}} | {{.PreDays}} | {{.PostDays}} |
{{- end}}
{{end}}
## Method

For each outcome, bandwidth _h_ and polynomial degree _p_, the rows within
_h_ days of the cutoff are fitted by ordinary least squares:

    y = a + Σ b_k·d^k + τ·treated + Σ c_k·treated·d^k + day_of_week + rainfall_mm + average_temperature

where _d_ is days from the cutoff and _k_ runs from 1 to _p_. The treatment
effect is τ. Standard errors are heteroskedasticity-consistent ({{.Covariance}});
intervals and p-values use Student's t with n − k degrees of freedom.

Bandwidths: {{ints .Plan.Bandwidths}} days. Degrees: {{ints .Plan.Degrees}}.

## Estimates

{{.Table}}
Bold estimates are significant at the 5% level.

![Estimates by bandwidth and functional form](` + EstimatesSVG + `)
{{range .Scatters}}
![Daily values around the cutoff]({{.}})
{{end}}`))

// Markdown renders the literate report. scatters names the scatter figures to link.
func Markdown(in Input, scatters []string) ([]byte, error) {
	data := struct {
		Input
		Summary  *domain.Summary
		Table    string
		Scatters []string
	}{
		Input:    in,
		Table:    MarkdownTable(in.Results),
		Scatters: scatters,
	}
	if in.Dataset != nil {
		s := in.Dataset.Summary()
		data.Summary = &s
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// HTML converts markdown to a standalone HTML page.
func HTML(markdown []byte, title string) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert(markdown, &body); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: right; }
img { max-width: 100%%; }
</style>
</head>
<body>
`, html.EscapeString(title))
	buf.Write(body.Bytes())
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

// Preview renders markdown for display in a terminal.
func Preview(markdown []byte, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create terminal renderer: %w", err)
	}
	out, err := r.Render(string(markdown))
	if err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return out, nil
}

func formatNumber(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ", ")
}
