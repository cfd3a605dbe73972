package main

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"wesgateway/internal/logging"
	"wesgateway/internal/queue"
	"wesgateway/internal/tracking"
)

// startDispatchConsumer subscribes to the dispatch queue and runs the
// tracker for every message, acking only once Track returns (a malformed
// message is acked and dropped at once).
func startDispatchConsumer(ctx context.Context, engine *queue.NATSEngine, tracker *tracking.Tracker) error {
	_, err := engine.SubscribeDurable(func(msg *nats.Msg) {
		var dm queue.DispatchMessage
		if err := json.Unmarshal(msg.Data, &dm); err != nil {
			logging.Error("dispatch: malformed message, dropping", "error", err)
			_ = msg.Ack()
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, dm.SoftTimeout)
		defer cancel()
		if err := tracker.Track(runCtx, dm.TaskID, dm.BearerToken); err != nil {
			logging.Error("dispatch: tracker failed", "task_id", dm.TaskID, "error", err)
		}
		_ = msg.Ack()
	})
	return err
}
