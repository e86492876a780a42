package commands

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/analyzer"
	"github.com/Sumatoshi-tech/tracefang/pkg/evaluation"
)

// plotBarLimit bounds how many locations the HTML chart shows.
const plotBarLimit = 30

// RankCommand holds the flags for the rank command.
type RankCommand struct {
	root *rootOptions

	analysisPath string
	metric       string
	baseDir      string
	useWeights   bool
	plotPath     string
	faulty       []string
	topN         int
}

// NewRankCommand creates and configures the rank command.
func NewRankCommand(root *rootOptions) *cobra.Command {
	rc := &RankCommand{root: root}

	cobraCmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank locations from a persisted analysis",
		Long:  "Load a persisted analysis JSON, compute per-location ranks with mid-rank tie breaking, and optionally evaluate them against a known faulty set.",
		RunE:  rc.Run,
	}

	cobraCmd.Flags().StringVarP(&rc.analysisPath, "analysis", "a", "", "Path to the persisted analysis JSON")
	cobraCmd.Flags().StringVarP(&rc.metric, "metric", "m", "", "Metric to rank with")
	cobraCmd.Flags().StringVar(&rc.baseDir, "base-dir", "", "Source root for block location lookup")
	cobraCmd.Flags().BoolVar(&rc.useWeights, "use-weights", false, "Multiply scores by the aggregated dependency weights")
	cobraCmd.Flags().StringVar(&rc.plotPath, "plot", "", "Write an HTML bar chart of the top locations to this path")
	cobraCmd.Flags().StringSliceVar(&rc.faulty, "faulty", nil, "Known faulty locations (file:line) for evaluation")
	cobraCmd.Flags().IntVar(&rc.topN, "top", 10, "N for the top-N evaluation")

	_ = cobraCmd.MarkFlagRequired("analysis")

	return cobraCmd
}

// Run executes the rank command.
func (rc *RankCommand) Run(_ *cobra.Command, _ []string) error {
	loaded, loadErr := analyzer.Load(rc.analysisPath)
	if loadErr != nil {
		return loadErr
	}

	suggestions, suggestErr := loaded.SortedSuggestions(rc.baseDir, rc.metric, nil, rc.useWeights)
	if suggestErr != nil {
		return suggestErr
	}

	rank := evaluation.New(suggestions, 0)

	rc.renderRanks(suggestions, rank)

	if len(rc.faulty) > 0 {
		faulty, parseErr := parseFaulty(rc.faulty)
		if parseErr != nil {
			return parseErr
		}

		rc.renderEvaluation(rank, faulty)
	}

	if rc.plotPath != "" {
		return rc.writePlot(suggestions)
	}

	return nil
}

func (rc *RankCommand) renderRanks(suggestions []analysis.Suggestion, rank *evaluation.Rank) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Rank", "Score", "Location"})

	type row struct {
		rank  float64
		score float64
		loc   analysis.Location
	}

	rows := make([]row, 0)

	for _, suggestion := range suggestions {
		for _, loc := range suggestion.Locations {
			rows = append(rows, row{rank: rank.LocationRank(loc), score: suggestion.Suspiciousness, loc: loc})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].rank < rows[j].rank })

	for _, r := range rows {
		t.AppendRow(table.Row{fmt.Sprintf("%.1f", r.rank), fmt.Sprintf("%.4f", r.score), r.loc.String()})
	}

	t.Render()
}

func (rc *RankCommand) renderEvaluation(rank *evaluation.Rank, faulty map[analysis.Location]struct{}) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Evaluation against faulty set")
	t.AppendHeader(table.Row{"Measure", "Best", "Average", "Worst"})

	t.AppendRow(table.Row{
		"rank",
		fmt.Sprintf("%.1f", rank.FaultyRank(faulty, evaluation.ScenarioBestCase)),
		fmt.Sprintf("%.1f", rank.FaultyRank(faulty, evaluation.ScenarioAvgCase)),
		fmt.Sprintf("%.1f", rank.FaultyRank(faulty, evaluation.ScenarioWorstCase)),
	})
	t.AppendRow(table.Row{
		"exam",
		fmt.Sprintf("%.4f", rank.Exam(faulty, evaluation.ScenarioBestCase)),
		fmt.Sprintf("%.4f", rank.Exam(faulty, evaluation.ScenarioAvgCase)),
		fmt.Sprintf("%.4f", rank.Exam(faulty, evaluation.ScenarioWorstCase)),
	})
	t.AppendRow(table.Row{
		"wasted effort",
		fmt.Sprintf("%.0f", rank.WastedEffort(faulty, evaluation.ScenarioBestCase)),
		fmt.Sprintf("%.0f", rank.WastedEffort(faulty, evaluation.ScenarioAvgCase)),
		fmt.Sprintf("%.0f", rank.WastedEffort(faulty, evaluation.ScenarioWorstCase)),
	})
	t.AppendRow(table.Row{
		fmt.Sprintf("top-%d", rc.topN),
		fmt.Sprintf("%.4f", rank.TopN(faulty, rc.topN, evaluation.ScenarioBestCase)),
		fmt.Sprintf("%.4f", rank.TopN(faulty, rc.topN, evaluation.ScenarioAvgCase)),
		fmt.Sprintf("%.4f", rank.TopN(faulty, rc.topN, evaluation.ScenarioWorstCase)),
	})

	t.Render()
}

// writePlot renders an HTML bar chart of the top-scored locations.
func (rc *RankCommand) writePlot(suggestions []analysis.Suggestion) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Suspicious locations"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45, Show: opts.Bool(true)}}),
	)

	labels := make([]string, 0, plotBarLimit)
	values := make([]opts.BarData, 0, plotBarLimit)

	for _, suggestion := range suggestions {
		for _, loc := range suggestion.Locations {
			if len(labels) >= plotBarLimit {
				break
			}

			labels = append(labels, loc.String())
			values = append(values, opts.BarData{Value: suggestion.Suspiciousness})
		}
	}

	bar.SetXAxis(labels).AddSeries("suspiciousness", values)

	f, createErr := os.Create(rc.plotPath)
	if createErr != nil {
		return fmt.Errorf("create plot file: %w", createErr)
	}
	defer f.Close()

	renderErr := bar.Render(f)
	if renderErr != nil {
		return fmt.Errorf("render plot: %w", renderErr)
	}

	return nil
}

// parseFaulty parses file:line entries into a location set.
func parseFaulty(entries []string) (map[analysis.Location]struct{}, error) {
	faulty := make(map[analysis.Location]struct{}, len(entries))

	for _, entry := range entries {
		idx := strings.LastIndex(entry, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid faulty location %q, expected file:line", entry)
		}

		line, lineErr := strconv.Atoi(entry[idx+1:])
		if lineErr != nil {
			return nil, fmt.Errorf("invalid faulty line in %q: %w", entry, lineErr)
		}

		faulty[analysis.Location{File: entry[:idx], Line: line}] = struct{}{}
	}

	return faulty, nil
}
