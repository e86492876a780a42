package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tracefang/internal/config"
	"github.com/Sumatoshi-tech/tracefang/pkg/analyzer"
	"github.com/Sumatoshi-tech/tracefang/pkg/features"
)

// FeaturesCommand holds the flags for the features command.
type FeaturesCommand struct {
	root *rootOptions

	output  string
	label   string
	workers int
}

// NewFeaturesCommand creates and configures the features command.
func NewFeaturesCommand(root *rootOptions) *cobra.Command {
	fc := &FeaturesCommand{root: root}

	cobraCmd := &cobra.Command{
		Use:   "features",
		Short: "Emit a per-run feature matrix instead of ranks",
		Long:  "Replay the configured traces through the feature builder and emit a CSV matrix with one ternary feature column per analysis object and one row per run.",
		RunE:  fc.Run,
	}

	cobraCmd.Flags().StringVarP(&fc.output, "output", "o", "", "Output file (default: stdout)")
	cobraCmd.Flags().StringVar(&fc.label, "label", "", "Optional label column value")
	cobraCmd.Flags().IntVar(&fc.workers, "workers", 1, "Trace worker pool size")

	return cobraCmd
}

// Run executes the features command.
func (fc *FeaturesCommand) Run(cobraCmd *cobra.Command, _ []string) error {
	cfg, cfgErr := config.Load(fc.root.configPath)
	if cfgErr != nil {
		return cfgErr
	}

	resolved, buildErr := cfg.Build(fc.root.providers.Logger)
	if buildErr != nil {
		return buildErr
	}

	builder := features.NewBuilder(resolved.Factory)

	a := analyzer.New(resolved.Failing, resolved.Passing, builder,
		analyzer.WithWorkers(fc.workers),
		analyzer.WithLogger(fc.root.providers.Logger),
		analyzer.WithTracer(fc.root.providers.Tracer),
	)

	analyzeErr := a.Analyze(commandContext(cobraCmd))
	if analyzeErr != nil {
		return analyzeErr
	}

	writer, closeWriter, writerErr := openOutput(fc.output)
	if writerErr != nil {
		return writerErr
	}
	defer closeWriter()

	return builder.WriteCSV(writer, fc.label)
}
