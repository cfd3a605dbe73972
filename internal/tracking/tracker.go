// Package tracking implements the background process that follows a run
// from admission through to a finished state, mirroring the polling loop
// the source runs as a Celery task (tasks/track_run_progress.py).
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wesgateway/internal/apierr"
	"wesgateway/internal/db/repositories"
	"wesgateway/internal/queue"
	"wesgateway/internal/runstate"
	"wesgateway/internal/upstream"
)

// Tracker polls one run at a time to completion. A single instance is safe
// for concurrent use across runs; each Track call only touches its own
// task_id's document.
type Tracker struct {
	runs      *repositories.RunRepo
	telemetry *queue.Telemetry

	pollingWait     time.Duration
	pollingAttempts int
	defaultTimeout  time.Duration

	newClient func(host, basePath, token string) *upstream.Client
}

// Options configures polling cadence and retry budget, mirroring the
// source's polling_wait / polling_attempts / defaults.timeout settings.
type Options struct {
	PollingWait     time.Duration
	PollingAttempts int
	DefaultTimeout  time.Duration
}

func New(runs *repositories.RunRepo, telemetry *queue.Telemetry, opts Options) *Tracker {
	return &Tracker{
		runs:            runs,
		telemetry:       telemetry,
		pollingWait:     opts.PollingWait,
		pollingAttempts: opts.PollingAttempts,
		defaultTimeout:  opts.DefaultTimeout,
		newClient:       upstream.New,
	}
}

// Track relays the run at taskID to its assigned upstream endpoint and
// follows it until it reaches a finished state, mirroring the five-step
// algorithm: mark INITIALIZING, mirror the initial log, poll status until
// finished (with a bounded-retry budget on transport errors), then mirror
// the final log.
func (t *Tracker) Track(ctx context.Context, taskID, bearerToken string) (err error) {
	start := time.Now()
	ctx = t.startSpan(ctx, taskID)
	defer func() { t.endSpan(ctx, taskID, start, err) }()

	if err = t.runs.UpdateRunState(taskID, runstate.Initializing); err != nil {
		return fmt.Errorf("mark initializing: %w", err)
	}

	doc, err := t.runs.GetDocument(taskID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.WesEndpoint.RunID == nil || *doc.WesEndpoint.RunID == "" {
		t.fail(taskID)
		return apierr.Wrap("track", fmt.Errorf("no upstream run id recorded for this run"))
	}
	remoteRunID := *doc.WesEndpoint.RunID
	client := t.newClient(doc.WesEndpoint.Host, doc.WesEndpoint.BasePath, bearerToken)

	if err = t.mirrorRunLog(ctx, client, taskID, remoteRunID); err != nil {
		t.fail(taskID)
		return err
	}

	finalState, err := t.pollUntilFinished(ctx, client, taskID, remoteRunID)
	if err != nil {
		return err
	}

	if err = t.mirrorRunLog(ctx, client, taskID, remoteRunID); err != nil {
		t.fail(taskID)
		return err
	}

	_ = finalState
	return nil
}

// mirrorRunLog fetches the full run log and upserts it into run_log,
// dropping the "request" echo the upstream includes (§9 "upstream log
// schema tolerance"). Only state, run_log, task_logs and outputs are
// mirrored: the upstream's run_id is the remote id and must not replace the
// local run_log.run_id, and any other key the upstream adds is ignored.
func (t *Tracker) mirrorRunLog(ctx context.Context, client *upstream.Client, taskID, remoteRunID string) error {
	fields, err := client.GetRun(ctx, remoteRunID)
	if err != nil {
		return err
	}
	for key := range fields {
		switch key {
		case "state", "run_log", "task_logs", "outputs":
		default:
			delete(fields, key)
		}
	}
	_, err = t.runs.UpsertFieldsInRootObject(taskID, "run_log", fields)
	return err
}

// pollUntilFinished polls get_run_status at pollingWait intervals until the
// reported state is finished, tolerating up to pollingAttempts consecutive
// transport failures before giving up and marking the run SYSTEM_ERROR.
func (t *Tracker) pollUntilFinished(ctx context.Context, client *upstream.Client, taskID, remoteRunID string) (runstate.State, error) {
	state := runstate.Unknown
	attempt := 1

	for !state.Finished() {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-time.After(t.pollingWait):
		}

		status, err := client.GetRunStatus(ctx, remoteRunID, t.defaultTimeout)
		if err != nil {
			if attempt <= t.pollingAttempts {
				attempt++
				continue
			}
			t.fail(taskID)
			return state, err
		}
		attempt = 1

		if status.State != state {
			state = status.State
			if err := t.runs.UpdateRunState(taskID, state); err != nil {
				return state, fmt.Errorf("record polled state: %w", err)
			}
		}
	}
	return state, nil
}

func (t *Tracker) fail(taskID string) {
	_ = t.runs.UpdateRunState(taskID, runstate.SystemError)
}

func (t *Tracker) startSpan(ctx context.Context, taskID string) context.Context {
	if t.telemetry == nil {
		return ctx
	}
	return t.telemetry.StartRunSpan(ctx, taskID)
}

func (t *Tracker) endSpan(ctx context.Context, taskID string, start time.Time, err error) {
	if t.telemetry == nil {
		return
	}
	finalState := "unknown"
	if doc, getErr := t.runs.GetDocument(taskID); getErr == nil {
		finalState = string(doc.RunLog.State)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.telemetry.EndRunSpan(ctx, taskID, finalState, time.Since(start), err)
		return
	}
	t.telemetry.EndRunSpan(ctx, taskID, finalState, time.Since(start), nil)
}
