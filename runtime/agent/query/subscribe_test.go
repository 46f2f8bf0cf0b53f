package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
)

func publish(t *testing.T, ctx context.Context, b bus.Bus, channel string, env message.Envelope) {
	t.Helper()
	require.NoError(t, b.Publish(ctx, channel, env))
}

func TestSubscribe_RoutesParentMessagesToOnParent(t *testing.T) {
	ctx := context.Background()
	b := bus.NewInProcess()
	defer b.Close()
	q := New(nil, nil)

	received := make(chan message.Envelope, 4)
	coord, err := q.Subscribe(ctx, b, "root-session", "demo",
		func(msg message.Envelope) { received <- msg },
		nil, nil)
	require.NoError(t, err)
	defer coord.Stop()

	// Give the subscription goroutine a moment to attach before publishing.
	time.Sleep(20 * time.Millisecond)

	env, err := message.NewEnvelope(message.TypeUser, time.Now(), message.UserData{Role: "user", Content: "hi"})
	require.NoError(t, err)
	publish(t, ctx, b, bus.MessagesChannel("root-session"), env)

	select {
	case got := <-received:
		require.Equal(t, message.TypeUser, got.MessageType)
	case <-time.After(time.Second):
		t.Fatal("did not receive parent message")
	}
}

func TestSubscribe_AutoDiscoversChildOnSubInstanceStarted(t *testing.T) {
	ctx := context.Background()
	b := bus.NewInProcess()
	defer b.Close()
	q := New(nil, nil)

	started := make(chan string, 4)
	childMsgs := make(chan message.Envelope, 4)
	coord, err := q.Subscribe(ctx, b, "root-session", "demo",
		nil,
		func(childSessionID, instanceName string, msg message.Envelope) { childMsgs <- msg },
		func(childSessionID, instanceName string) { started <- childSessionID })
	require.NoError(t, err)
	defer coord.Stop()

	time.Sleep(20 * time.Millisecond)

	sysEnv, err := message.NewEnvelope(message.TypeSystem, time.Now(), map[string]any{
		"subtype":       message.SystemSubtypeSubInstanceStarted,
		"session_id":    "child-session",
		"instance_name": "demo",
	})
	require.NoError(t, err)
	publish(t, ctx, b, bus.SystemChannel("root-session"), sysEnv)

	select {
	case childID := <-started:
		require.Equal(t, "child-session", childID)
	case <-time.After(time.Second):
		t.Fatal("onStart was not invoked for the discovered child")
	}

	// Once discovered, a message on the child's own channel routes to onChild.
	time.Sleep(20 * time.Millisecond)
	childEnv, err := message.NewEnvelope(message.TypeAssistant, time.Now(), message.AssistantData{Model: "claude"})
	require.NoError(t, err)
	publish(t, ctx, b, bus.MessagesChannel("child-session"), childEnv)

	select {
	case got := <-childMsgs:
		require.Equal(t, message.TypeAssistant, got.MessageType)
	case <-time.After(time.Second):
		t.Fatal("did not receive child message after auto-discovery")
	}

	children := coord.GetChildSessions()
	require.Equal(t, "demo", children["child-session"])
}

func TestCoordinator_StopIsIdempotentAndWaitReturns(t *testing.T) {
	ctx := context.Background()
	b := bus.NewInProcess()
	defer b.Close()
	q := New(nil, nil)

	coord, err := q.Subscribe(ctx, b, "root-session", "demo", nil, nil, nil)
	require.NoError(t, err)

	coord.Stop()
	coord.Stop() // must not panic or block

	done := make(chan struct{})
	go func() {
		coord.Wait(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}
