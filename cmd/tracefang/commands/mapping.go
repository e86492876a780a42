package commands

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tracefang/pkg/events"
)

// MappingCommand holds the flags for the mapping command.
type MappingCommand struct {
	root *rootOptions

	mappingPath string
	target      string
	limit       int
}

// NewMappingCommand creates and configures the mapping command.
func NewMappingCommand(root *rootOptions) *cobra.Command {
	mc := &MappingCommand{root: root}

	cobraCmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect a persisted event mapping",
		Long:  "Load the event mapping of a target (or an explicit mapping file) and print its event inventory.",
		RunE:  mc.Run,
	}

	cobraCmd.Flags().StringVar(&mc.mappingPath, "path", "", "Explicit mapping file path")
	cobraCmd.Flags().StringVar(&mc.target, "target", "", "Target source root; resolves the conventional mapping location")
	cobraCmd.Flags().IntVar(&mc.limit, "limit", 50, "Maximum events to list; 0 lists all")

	return cobraCmd
}

// Run executes the mapping command.
func (mc *MappingCommand) Run(_ *cobra.Command, _ []string) error {
	path := mc.mappingPath
	if path == "" {
		resolved, err := events.DefaultMappingPath(mc.target)
		if err != nil {
			return err
		}

		path = resolved
	}

	mapping, loadErr := events.LoadMapping(path)
	if loadErr != nil {
		return loadErr
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Event mapping: %s (%s events)", path, humanize.Comma(int64(mapping.Len())))
	t.AppendHeader(table.Row{"ID", "Kind", "File", "Line", "Detail"})

	for i, e := range mapping.Sorted() {
		if mc.limit > 0 && i >= mc.limit {
			break
		}

		t.AppendRow(table.Row{e.ID, e.Type.String(), e.File, e.Line, eventDetail(e)})
	}

	t.Render()

	return nil
}

func eventDetail(e events.Event) string {
	switch e.Type {
	case events.FunctionEnter, events.FunctionExit, events.FunctionError, events.TestStart, events.TestEnd:
		return e.Function
	case events.Def, events.Use, events.Len, events.TestDef, events.TestUse:
		return e.Var
	case events.Condition:
		return e.Condition
	default:
		return ""
	}
}
