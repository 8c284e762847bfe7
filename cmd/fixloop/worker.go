package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avi3tal/fixloop/internal/metrics"
	"github.com/avi3tal/fixloop/internal/queue"
	"github.com/avi3tal/fixloop/internal/repair"
	"github.com/avi3tal/fixloop/pkg/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run repairs from the redis request queue",
	Long:  `Waits for requests pushed by "fixloop enqueue" and runs up to worker.concurrency repairs at once. Results are stored back in redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := cmd.Context()
		q := e.queue()
		app, err := e.repairApp(
			workflow.WithListener[repair.State, repair.Patch](q),
			workflow.WithCallback[repair.State, repair.Patch](&meteredCallback{next: q, metrics: e.metrics}),
			workflow.WithConcurrency[repair.State, repair.Patch](e.cfg.Worker.Concurrency),
		)
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			q.Close()
		}()

		e.logger.InfoContext(ctx, "worker started",
			"queue", e.cfg.Worker.Queue,
			"concurrency", e.cfg.Worker.Concurrency,
		)
		if err := app.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		e.logger.InfoContext(ctx, "worker stopped")
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a repair request for a worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		file, _ := cmd.Flags().GetString("file")
		reason, _ := cmd.Flags().GetString("error")
		threadID, _ := cmd.Flags().GetString("thread")
		wait, _ := cmd.Flags().GetDuration("wait")

		code, err := readInput(cmd, file)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		q := e.queue()
		id, err := q.Enqueue(ctx, workflow.Event[repair.State]{ThreadID: threadID, Input: repair.NewState(reason, code)})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		if wait <= 0 {
			return nil
		}

		res, err := awaitResult(ctx, q, id, wait)
		if err != nil {
			return err
		}
		if res.Status == queue.StatusFailed {
			return fmt.Errorf("repair %s failed: %s", id, res.Error)
		}
		return repair.WriteTranscript(cmd.OutOrStdout(), *res.Output)
	},
}

func (e *env) queue() *queue.Queue[repair.State] {
	return queue.New[repair.State](e.redis(e.cfg.Worker.RedisAddr),
		queue.WithName(e.cfg.Worker.Queue),
		queue.WithLogger(e.logger),
	)
}

func awaitResult(ctx context.Context, q *queue.Queue[repair.State], id string, wait time.Duration) (queue.Result[repair.State], error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		res, err := q.Result(ctx, id)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, queue.ErrNoResult) {
			return queue.Result[repair.State]{}, err
		}
		select {
		case <-ctx.Done():
			return queue.Result[repair.State]{}, fmt.Errorf("no result for %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// meteredCallback counts run outcomes before handing them on.
type meteredCallback struct {
	next    workflow.Callback[repair.State]
	metrics *metrics.Metrics
}

func (c *meteredCallback) OnComplete(ctx context.Context, threadID string, output repair.State) error {
	c.metrics.RunFinished(string(repair.Outcome(output)))
	return c.next.OnComplete(ctx, threadID, output)
}

func (c *meteredCallback) OnError(ctx context.Context, threadID string, err error) error {
	if threadID != "" {
		c.metrics.RunFinished(string(repair.Classify(repair.State{}, err)))
	}
	return c.next.OnError(ctx, threadID, err)
}

func init() {
	rootCmd.AddCommand(workerCmd, enqueueCmd)

	enqueueCmd.Flags().StringP("file", "f", "-", "Program to repair, - for stdin")
	enqueueCmd.Flags().StringP("error", "e", "", "Error message of the failing run")
	_ = enqueueCmd.MarkFlagRequired("error")
	enqueueCmd.Flags().String("thread", "", "Thread ID (random when empty)")
	enqueueCmd.Flags().Duration("wait", 0, "Wait this long for the result and print it")
}
