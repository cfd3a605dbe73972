// Package queue implements the durable at-least-once handoff from the
// admission controller to the background tracker, standing in for the
// source's Celery apply_async(task_id=..., soft_time_limit=...) dispatch.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	natsserver_test "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"

	"wesgateway/internal/logging"
)

// DispatchMessage is the payload published when a newly admitted run is
// handed off for tracking. TaskID is the document's primary key; the
// tracker looks up the rest of the run state from the document store.
// BearerToken travels with the message the same way the source passes
// 'jwt' through Celery's apply_async kwargs — whichever process consumes
// the dispatch needs it to poll the upstream engine on the caller's behalf.
type DispatchMessage struct {
	TaskID      string        `json:"task_id"`
	BearerToken string        `json:"bearer_token"`
	SoftTimeout time.Duration `json:"soft_timeout"`
}

// Engine is the dispatch queue's narrow interface: publish a tracking
// assignment, and durably subscribe to consume them.
type Engine interface {
	PublishDispatch(taskID, bearerToken string, softTimeout time.Duration) error
	SubscribeDurable(handler func(msg *nats.Msg)) (*nats.Subscription, error)
	Close()
}

// NATSEngine is the JetStream-backed Engine, optionally running its own
// embedded server for single-binary deployments.
type NATSEngine struct {
	opts   Options
	server *natsserver.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
}

// NewEngine connects to JetStream, starting an embedded server first when
// opts.Embedded is set. Returns (nil, nil) when opts.Enabled is false — the
// admission controller treats a nil Engine as "run the tracker inline" for
// the no-queue deployment mode.
func NewEngine(opts Options) (*NATSEngine, error) {
	if !opts.Enabled {
		return nil, nil
	}

	engine := &NATSEngine{opts: opts}
	if opts.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{Port: -1, JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("embedded nats failed to start")
		}
		engine.server = srv
		engine.opts.URL = fmt.Sprintf("nats://%s", srv.Addr().String())
	}

	conn, err := nats.Connect(engine.opts.URL)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	engine.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	engine.js = js

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{fmt.Sprintf("%s.>", opts.SubjectPrefix)},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		engine.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return engine, nil
}

func (e *NATSEngine) dispatchSubject() string {
	return fmt.Sprintf("%s.dispatch", e.opts.SubjectPrefix)
}

// PublishDispatch hands taskID off to whichever tracker instance is
// subscribed, at least once.
func (e *NATSEngine) PublishDispatch(taskID, bearerToken string, softTimeout time.Duration) error {
	if e == nil || e.js == nil {
		return nil
	}
	data, err := json.Marshal(DispatchMessage{TaskID: taskID, BearerToken: bearerToken, SoftTimeout: softTimeout})
	if err != nil {
		return err
	}
	_, err = e.js.Publish(e.dispatchSubject(), data)
	if err != nil {
		logging.Error("queue: publish dispatch failed", "task_id", taskID, "error", err)
	}
	return err
}

// SubscribeDurable creates a durable pull consumer over the dispatch
// subject, named ConsumerName plus a timestamp so each call gets its own
// consumer, and hands every fetched message to handler on its own goroutine
// loop, until the subscription is closed.
func (e *NATSEngine) SubscribeDurable(handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	if e == nil || e.js == nil {
		return nil, fmt.Errorf("queue engine not initialized")
	}

	consumerName := fmt.Sprintf("%s-%d", e.opts.ConsumerName, time.Now().UnixNano())
	if err := e.js.DeleteConsumer(e.opts.Stream, e.opts.ConsumerName); err == nil {
		logging.Debug("queue: deleted stale consumer", "consumer", e.opts.ConsumerName)
	}

	sub, err := e.js.PullSubscribe(
		e.dispatchSubject(),
		consumerName,
		nats.AckExplicit(),
		nats.ManualAck(),
		nats.DeliverNew(),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream pull subscribe: %w", err)
	}

	go e.pullFetchLoop(sub, handler)
	return sub, nil
}

func (e *NATSEngine) pullFetchLoop(sub *nats.Subscription, handler func(msg *nats.Msg)) {
	for {
		if !sub.IsValid() {
			return
		}
		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if err == nats.ErrConnectionClosed || err == nats.ErrConsumerDeleted {
				return
			}
			logging.Warn("queue: fetch error", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		for _, msg := range msgs {
			handler(msg)
		}
	}
}

// Close drains the connection and, if this engine started one, shuts down
// the embedded server.
func (e *NATSEngine) Close() {
	if e == nil {
		return
	}
	if e.conn != nil {
		e.conn.Drain()
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
	}
}

// NewEmbeddedEngineForTests starts a throwaway embedded server bound to a
// random port, for tests that need a real JetStream round trip.
func NewEmbeddedEngineForTests() (*NATSEngine, error) {
	serverOpts := natsserver_test.DefaultTestOptions
	serverOpts.Port = -1
	serverOpts.JetStream = true
	srv := natsserver_test.RunServer(&serverOpts)

	opts := Options{
		Enabled:       true,
		URL:           srv.ClientURL(),
		Stream:        "WES_TRACKER_TEST",
		SubjectPrefix: "wes-test",
		ConsumerName:  "test-consumer",
		Embedded:      false,
	}
	engine, err := NewEngine(opts)
	if err != nil {
		srv.Shutdown()
		return nil, err
	}
	engine.server = srv
	return engine, nil
}
