package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/analyzer"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// Suspiciousness coloring thresholds for table output.
const (
	highSuspiciousness   = 0.8
	mediumSuspiciousness = 0.5
)

// suggestionReport is the serialized form of one metric's suggestion list.
type suggestionReport struct {
	Metric      string           `json:"metric" yaml:"metric"`
	Stats       statsReport      `json:"stats" yaml:"stats"`
	Suggestions []suggestionItem `json:"suggestions" yaml:"suggestions"`
}

type statsReport struct {
	Max  float64 `json:"max"  yaml:"max"`
	Min  float64 `json:"min"  yaml:"min"`
	Mean float64 `json:"mean" yaml:"mean"`
}

type suggestionItem struct {
	Suspiciousness float64  `json:"suspiciousness" yaml:"suspiciousness"`
	Locations      []string `json:"locations"      yaml:"locations"`
}

func buildReport(metric string, suggestions []analysis.Suggestion, stats analyzer.SuspiciousnessStats) suggestionReport {
	report := suggestionReport{
		Metric: metric,
		Stats:  statsReport{Max: stats.Max, Min: stats.Min, Mean: stats.Mean},
	}

	for _, suggestion := range suggestions {
		item := suggestionItem{Suspiciousness: suggestion.Suspiciousness}
		for _, loc := range suggestion.Locations {
			item.Locations = append(item.Locations, loc.String())
		}

		report.Suggestions = append(report.Suggestions, item)
	}

	return report
}

// renderSuggestions writes one metric's suggestions in the chosen format.
func renderSuggestions(
	w io.Writer,
	format, metric string,
	suggestions []analysis.Suggestion,
	stats analyzer.SuspiciousnessStats,
) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		err := encoder.Encode(buildReport(metric, suggestions, stats))
		if err != nil {
			return fmt.Errorf("encode suggestions: %w", err)
		}

		return nil
	case formatYAML:
		err := yaml.NewEncoder(w).Encode(buildReport(metric, suggestions, stats))
		if err != nil {
			return fmt.Errorf("encode suggestions: %w", err)
		}

		return nil
	default:
		renderSuggestionTable(w, metric, suggestions, stats)

		return nil
	}
}

func renderSuggestionTable(w io.Writer, metric string, suggestions []analysis.Suggestion, stats analyzer.SuspiciousnessStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Suspiciousness (%s)", metric)
	t.AppendHeader(table.Row{"Rank", "Score", "Locations"})

	for i, suggestion := range suggestions {
		t.AppendRow(table.Row{
			i + 1,
			colorScore(suggestion.Suspiciousness, stats.Max),
			joinLocations(suggestion.Locations),
		})
	}

	t.AppendFooter(table.Row{"", "max/min/mean", fmt.Sprintf("%.4f / %.4f / %.4f", stats.Max, stats.Min, stats.Mean)})
	t.Render()
}

// colorScore colors a score relative to the maximum of the pass.
func colorScore(score, maxScore float64) string {
	rendered := fmt.Sprintf("%.4f", score)

	if maxScore <= 0 {
		return rendered
	}

	switch ratio := score / maxScore; {
	case ratio >= highSuspiciousness:
		return color.New(color.FgRed, color.Bold).Sprint(rendered)
	case ratio >= mediumSuspiciousness:
		return color.New(color.FgYellow).Sprint(rendered)
	default:
		return rendered
	}
}

func joinLocations(locations []analysis.Location) string {
	rendered := ""

	for i, loc := range locations {
		if i > 0 {
			rendered += ", "
		}

		rendered += loc.String()
	}

	return rendered
}
