// Command repair runs the repair loop offline: a scripted model proposes two
// fixes that both still fail, so the loop retries once and then gives up.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/internal/llm"
	"github.com/avi3tal/fixloop/internal/logging"
	"github.com/avi3tal/fixloop/internal/repair"
	"github.com/avi3tal/fixloop/internal/sandbox"
	"github.com/avi3tal/fixloop/pkg/checkpoints"
	"github.com/avi3tal/fixloop/pkg/types"
	"github.com/avi3tal/fixloop/pkg/workflow"
)

const brokenCode = `local t = nil
print(t.name)`

func main() {
	if sandbox.IsChild() {
		os.Exit(sandbox.ServeChild())
	}
	ctx := context.Background()
	logger := logging.New(logging.Options{Format: "text"})

	model := llm.NewScripted(
		"t is nil, so reading t.name fails.",
		"```lua\nlocal t = {}\nprint(t.name.first)\n```",
		"t.name is nil, so reading its first field fails.",
		"local t = {name = nil}\nprint(#t.name)",
	)

	store := checkpoints.NewMemoryStore[repair.State]()
	app, err := repair.NewApp(repair.Deps{
		Explainer: llm.NewExplainer(model),
		Fixer:     llm.NewFixer(model, "lua"),
		Sandbox:   sandbox.NewIsolatedLuaRunner(),
		Logger:    logger,
	}, workflow.WithCheckpointStore[repair.State, repair.Patch](store))
	if err != nil {
		log.Fatalf("Failed to build repair app: %v", err)
	}

	app.Compiled().PrintGraph(os.Stdout)

	initial := repair.NewState("attempt to index a nil value (local 't')", brokenCode)
	final, err := app.Invoke(ctx, initial, graph.WithThreadID[repair.State]("demo"))
	if err != nil {
		log.Fatalf("Repair failed: %v", err)
	}

	if err := repair.WriteTranscript(os.Stdout, final); err != nil {
		log.Fatalf("Failed to print transcript: %v", err)
	}
	fmt.Printf("Result: %s after %d retries\n", repair.Outcome(final), final.Iterations)

	cp, err := store.Load(ctx, types.CheckpointKey{GraphID: repair.GraphID, ThreadID: "demo"})
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}
	fmt.Printf("Checkpoint: status=%s steps=%d\n", cp.Meta.Status, cp.Meta.Steps)
}
