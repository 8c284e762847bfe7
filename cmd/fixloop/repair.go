package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/avi3tal/fixloop/internal/config"
	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/internal/repair"
	"github.com/avi3tal/fixloop/pkg/types"
)

var errNotFixed = errors.New("program still fails after the retry")

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a failing program",
	Long: `Runs the explain, fix and execute loop over a program. Without --error the
program is executed once first and its failure becomes the starting reason.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		file, _ := cmd.Flags().GetString("file")
		reason, _ := cmd.Flags().GetString("error")
		threadID, _ := cmd.Flags().GetString("thread")

		code, err := readInput(cmd, file)
		if err != nil {
			return err
		}

		ctx, cancel := e.runContext(cmd.Context())
		defer cancel()

		if reason == "" {
			out, err := e.sandbox().Run(ctx, code)
			if err != nil {
				return fmt.Errorf("run program: %w", err)
			}
			if out.OK() {
				fmt.Fprintln(cmd.OutOrStdout(), "Program ran successfully, nothing to repair.")
				return nil
			}
			reason = "Execution failed: " + out.Reason
		}

		app, err := e.repairApp()
		if err != nil {
			return err
		}
		if threadID == "" {
			threadID = uuid.New().String()
		}
		e.logger.InfoContext(ctx, "repair started", "thread_id", threadID)

		st, runErr := app.Invoke(ctx, repair.NewState(reason, code), graph.WithThreadID[repair.State](threadID))
		return report(cmd, e, st, runErr)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Continue an interrupted repair from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if e.cfg.Checkpoints.Backend == config.BackendMemory {
			return errors.New("resume needs a persistent checkpoint backend (sqlite or redis)")
		}

		app, err := e.repairApp()
		if err != nil {
			return err
		}
		ctx, cancel := e.runContext(cmd.Context())
		defer cancel()

		st, runErr := app.Resume(ctx, args[0])
		return report(cmd, e, st, runErr)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <thread-id>",
	Short: "Show the last checkpoint of a repair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		store, err := e.checkpointStore()
		if err != nil {
			return err
		}
		key := types.CheckpointKey{GraphID: repair.GraphID, ThreadID: args[0]}
		cp, err := store.Load(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("load checkpoint %s: %w", args[0], err)
		}

		w := cmd.OutOrStdout()
		if history, _ := cmd.Flags().GetBool("history"); history {
			h, ok := store.(historyStore)
			if !ok {
				return fmt.Errorf("the %s checkpoint backend keeps no history", e.cfg.Checkpoints.Backend)
			}
			cps, err := h.History(cmd.Context(), key)
			if err != nil {
				return err
			}
			for _, c := range cps {
				fmt.Fprintf(w, "%3d  %-9s  %-8s -> %-8s  retries=%d\n",
					c.Meta.Steps, c.Meta.Status, orDash(c.NodeID), orDash(c.Meta.Next), c.State.Iterations)
			}
			return nil
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(w, cp)
		}
		if asMermaid, _ := cmd.Flags().GetBool("mermaid"); asMermaid {
			info, err := repairGraphInfo()
			if err != nil {
				return err
			}
			_, err = io.WriteString(w, info.Mermaid(cp.State.Visited...))
			return err
		}

		fmt.Fprintf(w, "Thread:  %s\n", cp.Key.ThreadID)
		fmt.Fprintf(w, "Status:  %s\n", cp.Meta.Status)
		fmt.Fprintf(w, "Steps:   %d\n", cp.Meta.Steps)
		fmt.Fprintf(w, "Node:    %s\n", cp.NodeID)
		if cp.Meta.Next != "" {
			fmt.Fprintf(w, "Next:    %s\n", cp.Meta.Next)
		}
		if cp.Meta.Error != "" {
			fmt.Fprintf(w, "Error:   %s\n", cp.Meta.Error)
		}
		fmt.Fprintf(w, "Updated: %s\n", cp.Meta.UpdatedAt.Format("2006-01-02 15:04:05"))
		return repair.WriteTranscript(w, cp.State)
	},
}

type historyStore interface {
	History(ctx context.Context, key types.CheckpointKey) ([]types.Checkpoint[repair.State], error)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// report prints the trail of a finished run and turns its result into the
// command's error.
func report(cmd *cobra.Command, e *env, st repair.State, runErr error) error {
	result := repair.Classify(st, runErr)
	e.metrics.RunFinished(string(result))

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := writeJSON(w, st); err != nil {
			return err
		}
	} else {
		if err := repair.WriteTranscript(w, st); err != nil {
			return err
		}
		if st.FixedCode != "" {
			fmt.Fprintf(w, "\nFinal code:\n%s\n", st.FixedCode)
		}
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" && st.FixedCode != "" && result == repair.ResultFixed {
		if err := os.WriteFile(out, []byte(st.FixedCode), 0o644); err != nil {
			return fmt.Errorf("write fixed code: %w", err)
		}
	}

	switch result {
	case repair.ResultFixed:
		return nil
	case repair.ResultExhausted:
		return errNotFixed
	default:
		return runErr
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(repairCmd, resumeCmd, inspectCmd)

	repairCmd.Flags().StringP("file", "f", "-", "Program to repair, - for stdin")
	repairCmd.Flags().StringP("error", "e", "", "Error message of the failing run")
	repairCmd.Flags().String("thread", "", "Thread ID for checkpoints (random when empty)")

	for _, c := range []*cobra.Command{repairCmd, resumeCmd} {
		c.Flags().Bool("json", false, "Print the final state as JSON")
		c.Flags().StringP("out", "o", "", "Write the repaired program to this file")
	}

	inspectCmd.Flags().Bool("json", false, "Print the checkpoint as JSON")
	inspectCmd.Flags().Bool("mermaid", false, "Print the graph with the visited nodes highlighted")
	inspectCmd.Flags().Bool("history", false, "List every checkpoint of the run (sqlite only)")
}
