package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tracefang/internal/config"
	"github.com/Sumatoshi-tech/tracefang/pkg/analyzer"
	"github.com/Sumatoshi-tech/tracefang/pkg/dependency"
	"github.com/Sumatoshi-tech/tracefang/pkg/model"
	"github.com/Sumatoshi-tech/tracefang/pkg/observability"
)

// AnalyzeCommand holds the flags for the analyze command.
type AnalyzeCommand struct {
	root *rootOptions

	output     string
	format     string
	metric     string
	weights    string
	dumpPath   string
	workers    int
	useWeights bool
	threaded   bool
}

// NewAnalyzeCommand creates and configures the analyze command.
func NewAnalyzeCommand(root *rootOptions) *cobra.Command {
	ac := &AnalyzeCommand{root: root}

	cobraCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Replay traces and rank suspicious locations",
		Long:  "Replay the configured passing and failing event traces, aggregate the spectra, and print locations ranked by suspiciousness.",
		RunE:  ac.Run,
	}

	cobraCmd.Flags().StringVarP(&ac.output, "output", "o", "", "Output file (default: stdout)")
	cobraCmd.Flags().StringVarP(&ac.format, "format", "f", "table", "Output format: table, json, or yaml")
	cobraCmd.Flags().StringVarP(&ac.metric, "metric", "m", "", "Metric overriding the configured ones")
	cobraCmd.Flags().StringVar(&ac.weights, "weight-model", "", "Weight model: dependency, function, line, def_use, def_uses, assert_def_use, assert_def_uses")
	cobraCmd.Flags().BoolVar(&ac.useWeights, "use-weights", false, "Multiply scores by the aggregated dependency weights")
	cobraCmd.Flags().StringVar(&ac.dumpPath, "dump", "", "Persist the finalized analysis JSON to this path")
	cobraCmd.Flags().IntVar(&ac.workers, "workers", analyzer.DefaultWorkers, "Trace worker pool size")
	cobraCmd.Flags().BoolVar(&ac.threaded, "thread-support", false, "Track per-thread scopes for threaded subjects")

	return cobraCmd
}

// Run executes the analyze command.
func (ac *AnalyzeCommand) Run(cobraCmd *cobra.Command, _ []string) error {
	cfg, cfgErr := config.Load(ac.root.configPath)
	if cfgErr != nil {
		return cfgErr
	}

	resolved, buildErr := cfg.Build(ac.root.providers.Logger)
	if buildErr != nil {
		return buildErr
	}

	traceModel, modelErr := ac.buildModel(resolved, cfg)
	if modelErr != nil {
		return modelErr
	}

	metrics, metricsErr := observability.NewPipelineMetrics(ac.root.providers.Meter)
	if metricsErr != nil {
		return metricsErr
	}

	a := analyzer.New(resolved.Failing, resolved.Passing, traceModel,
		analyzer.WithWorkers(ac.workers),
		analyzer.WithLogger(ac.root.providers.Logger),
		analyzer.WithTracer(ac.root.providers.Tracer),
		analyzer.WithMetrics(metrics),
	)

	analyzeErr := a.Analyze(commandContext(cobraCmd))
	if analyzeErr != nil {
		return analyzeErr
	}

	if ac.dumpPath != "" {
		dumpErr := a.Dump(ac.dumpPath)
		if dumpErr != nil {
			return dumpErr
		}
	}

	return ac.report(cfg, resolved, a)
}

// buildModel selects the trace model: the weight model when configured, the
// parallel model for threaded subjects, the serial model otherwise.
func (ac *AnalyzeCommand) buildModel(resolved *config.Resolved, cfg *config.Config) (model.TraceModel, error) {
	if ac.weights != "" {
		variant, err := dependency.ParseVariant(ac.weights)
		if err != nil {
			return nil, err
		}

		return dependency.New(resolved.Factory, variant), nil
	}

	if ac.threaded || cfg.Test.ThreadSupport {
		return model.NewParallel(resolved.Factory), nil
	}

	return model.New(resolved.Factory), nil
}

func (ac *AnalyzeCommand) report(cfg *config.Config, resolved *config.Resolved, a *analyzer.Analyzer) error {
	writer, closeWriter, writerErr := openOutput(ac.output)
	if writerErr != nil {
		return writerErr
	}
	defer closeWriter()

	metricNames := resolved.Metrics
	if ac.metric != "" {
		metricNames = []string{ac.metric}
	}

	for _, metricName := range metricNames {
		suggestions, suggestErr := a.SortedSuggestions(cfg.Target.Path, metricName, nil, ac.useWeights)
		if suggestErr != nil {
			return suggestErr
		}

		renderErr := renderSuggestions(writer, ac.format, metricName, suggestions, a.Stats())
		if renderErr != nil {
			return renderErr
		}
	}

	ac.root.providers.Logger.Info("analysis complete",
		"objects", humanize.Comma(int64(len(a.Analysis()))),
		"failing", len(resolved.Failing),
		"passing", len(resolved.Passing))

	return nil
}

// openOutput opens the output target, defaulting to stdout.
func openOutput(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}

	return f, func() { _ = f.Close() }, nil
}
