package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine_DisabledReturnsNil(t *testing.T) {
	engine, err := NewEngine(Options{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, engine)
}

func TestEngine_PublishAndConsumeDispatch(t *testing.T) {
	engine, err := NewEmbeddedEngineForTests()
	require.NoError(t, err)
	defer engine.Close()

	received := make(chan DispatchMessage, 1)
	sub, err := engine.SubscribeDurable(func(msg *nats.Msg) {
		var dm DispatchMessage
		if err := json.Unmarshal(msg.Data, &dm); err == nil {
			received <- dm
		}
		_ = msg.Ack()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, engine.PublishDispatch("task-1", "tok", 24*time.Hour))

	select {
	case dm := <-received:
		assert.Equal(t, "task-1", dm.TaskID)
		assert.Equal(t, "tok", dm.BearerToken)
		assert.Equal(t, 24*time.Hour, dm.SoftTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch message")
	}
}

func TestEngine_Close_NilSafe(t *testing.T) {
	var engine *NATSEngine
	engine.Close()
}
