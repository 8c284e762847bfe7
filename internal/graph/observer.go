package graph

import (
	"context"
	"time"
)

// Observer receives executor events. Implementations must be safe for
// concurrent use since one compiled graph may serve many runs.
type Observer interface {
	NodeStarted(ctx context.Context, graphID, node string)
	NodeFinished(ctx context.Context, graphID, node string, elapsed time.Duration, err error)
	Routed(ctx context.Context, graphID, from, to string)
}
