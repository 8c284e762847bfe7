package repair

import (
	"fmt"
	"io"
	"strings"
)

const transcriptPreview = 100

// WriteTranscript prints the messages and the visited path of a run.
func WriteTranscript(w io.Writer, s State) error {
	var b strings.Builder
	b.WriteString("\n=== EXECUTION LOG ===\n")
	for i, m := range s.Messages {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, strings.ToUpper(m.Role), preview(m.Content))
	}
	b.WriteString("\n=== PATH ===\n")
	b.WriteString(strings.Join(s.Visited, " → "))
	b.WriteString("\n============\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= transcriptPreview {
		return s
	}
	return string(r[:transcriptPreview]) + "..."
}
