package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avi3tal/fixloop/internal/diagnose"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [trace-file]",
	Short: "Explain a stack trace and suggest fixes",
	Long:  `Reads a stack trace from a file, or from stdin when no file is given, and asks the model for its cause and five fix steps.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		trace, err := readInput(cmd, path)
		if err != nil {
			return err
		}
		if strings.TrimSpace(trace) == "" {
			return errors.New("empty stack trace")
		}

		model, err := e.model()
		if err != nil {
			return err
		}
		report, err := diagnose.NewWithModel(model).Diagnose(cmd.Context(), trace)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(w, report)
		}
		fmt.Fprintf(w, "Cause:\n%s\n\nFixes:\n%s\n", report.Cause, report.Fixes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	diagnoseCmd.Flags().Bool("json", false, "Print the report as JSON")
}
