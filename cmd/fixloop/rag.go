package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avi3tal/fixloop/internal/llm"
	"github.com/avi3tal/fixloop/internal/retrieval"
)

var ragCmd = &cobra.Command{
	Use:   "rag <file> <question>",
	Short: "Answer a question from a PDF or text document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		model, err := e.model()
		if err != nil {
			return err
		}
		embedder, err := llm.NewEmbedder(e.llmOptions())
		if err != nil {
			return err
		}

		p := retrieval.NewPipeline(embedder, model,
			retrieval.WithChunking(e.cfg.RAG.ChunkSize, e.cfg.RAG.ChunkOverlap),
			retrieval.WithTopK(e.cfg.RAG.TopK),
			retrieval.WithLogger(e.logger),
		)

		ctx := cmd.Context()
		if _, err := p.LoadFile(ctx, args[0]); err != nil {
			return err
		}
		question := strings.Join(args[1:], " ")

		w := cmd.OutOrStdout()
		if sources, _ := cmd.Flags().GetBool("sources"); sources {
			docs, err := p.Search(ctx, question)
			if err != nil {
				return err
			}
			for i, d := range docs {
				fmt.Fprintf(w, "[%d] score=%.3f %s\n", i+1, d.Score, preview(d.PageContent, 80))
			}
			fmt.Fprintln(w)
		}

		answer, err := p.Answer(ctx, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, answer)
		return nil
	},
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	rootCmd.AddCommand(ragCmd)

	ragCmd.Flags().Bool("sources", false, "Print the retrieved chunks before the answer")
}
