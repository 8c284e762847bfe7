package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/internal/repair"
	"github.com/avi3tal/fixloop/internal/sandbox"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the repair graph",
	Long:  `Builds the repair workflow without contacting a model and prints its topology, or a Mermaid diagram with --mermaid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := repairGraphInfo()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if asMermaid, _ := cmd.Flags().GetBool("mermaid"); asMermaid {
			_, err = io.WriteString(w, info.Mermaid())
			return err
		}

		fmt.Fprintln(w, "Graph Structure:")
		fmt.Fprintf(w, "Entry Point: %s\n\n", info.EntryPoint)
		for _, edge := range info.Edges {
			fmt.Fprintf(w, "  %s -> %s (%s)\n", edge.From, edge.To, edge.Type)
		}
		return nil
	},
}

// repairGraphInfo describes the repair topology using collaborators that
// are never called.
func repairGraphInfo() (*graph.Info, error) {
	unused := repair.CompleterFunc(func(context.Context, map[string]any) (string, error) {
		return "", errors.New("not available while printing the graph")
	})
	wf, err := repair.NewWorkflow(repair.Deps{
		Explainer: unused,
		Fixer:     unused,
		Sandbox:   sandbox.NewLuaRunner(),
	})
	if err != nil {
		return nil, err
	}
	return wf.Graph().GetGraphInfo(), nil
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().Bool("mermaid", false, "Print a Mermaid flowchart")
}
