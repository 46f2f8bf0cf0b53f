package session

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-run/agentcore/config"
	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
)

func newTestManager(t *testing.T, instanceName string) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	b := bus.NewInProcess()
	t.Cleanup(func() { _ = b.Close() })
	mgr, err := NewManager(root, instanceName, b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)
	return mgr, root
}

func TestManager_CreateSessionThenFinalize(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, "demo")

	sess, err := mgr.CreateSession(ctx, "hello", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, sess.Metadata().Depth)
	require.Equal(t, StatusRunning, sess.Metadata().Status)

	env, err := message.NewEnvelope(message.TypeUser, time.Now(), message.UserData{Role: "user", Content: "hello"})
	require.NoError(t, err)
	sess.RecordMessage(ctx, env)

	require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))
	require.Equal(t, StatusCompleted, sess.Metadata().Status)

	// Finalize is idempotent.
	require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))
	require.Equal(t, StatusCompleted, sess.Metadata().Status)
}

func TestManager_CreateSessionComputesDepthFromParent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, "demo")

	parent, err := mgr.CreateSession(ctx, "parent task", nil, nil)
	require.NoError(t, err)
	parentID := parent.ID()

	child, err := mgr.CreateSession(ctx, "child task", nil, &parentID)
	require.NoError(t, err)
	require.Equal(t, 1, child.Metadata().Depth)
	require.Equal(t, &parentID, child.Metadata().ParentSessionID)
}

func TestManager_AppendAndReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, root := newTestManager(t, "demo")

	sess, err := mgr.CreateSession(ctx, "hi", nil, nil)
	require.NoError(t, err)

	var want []message.Envelope
	for i := 0; i < 5; i++ {
		env, err := message.NewEnvelope(message.TypeAssistant, time.Now(), message.AssistantData{
			Model:   "claude",
			Content: []message.Block{message.TextBlock("chunk")},
		})
		require.NoError(t, err)
		sess.RecordMessage(ctx, env)
		want = append(want, env)
	}
	require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	path := filepath.Join(root, "demo", "sessions", sess.ID(), "messages.jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []message.Envelope
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var env message.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		got = append(got, env)
	}
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].MessageType, got[i].MessageType)
	}
}

func TestManager_ResumeSetsRunningAndPreservesResumeOf(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, "demo")

	sess, err := mgr.CreateSession(ctx, "hi", nil, nil)
	require.NoError(t, err)
	id := sess.ID()
	require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	resumed, err := mgr.Resume(ctx, id, "some-origin-session")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, resumed.Metadata().Status)
	require.Equal(t, "some-origin-session", *resumed.Metadata().ResumeOf)
}

func TestManager_ListSessionsOrdersNewestFirstAndFilters(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, "demo")

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := mgr.CreateSession(ctx, "task", nil, nil)
		require.NoError(t, err)
		ids = append(ids, sess.ID())
		if i == 1 {
			require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success", IsError: true}, false))
		}
		time.Sleep(time.Millisecond)
	}

	all, err := mgr.ListSessions(nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].Metadata.SessionID)

	failed := StatusFailed
	filtered, err := mgr.ListSessions(&failed, 0, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, ids[1], filtered[0].Metadata.SessionID)
}

func TestManager_RepairsCrashedSessionOnStartup(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b := bus.NewInProcess()
	defer b.Close()

	mgr, err := NewManager(root, "demo", b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)
	sess, err := mgr.CreateSession(ctx, "will crash", nil, nil)
	require.NoError(t, err)
	id := sess.ID()

	// Simulate a crash: rewrite metadata with a pid that cannot possibly be
	// alive, and backdate start_time past the crash-repair grace period.
	// Finalize is deliberately never called.
	dir := filepath.Join(root, "demo", "sessions", id)
	meta, err := readMetadata(dir)
	require.NoError(t, err)
	meta.OwnerPID = 999999999
	meta.StartTime = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, writeJSONFile(filepath.Join(dir, metadataFile), meta, id))

	// A fresh Manager over the same instance root runs the crash-repair scan
	// at construction time.
	mgr2, err := NewManager(root, "demo", b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)
	_ = mgr2

	repaired, err := readMetadata(dir)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, repaired.Status)
	require.NotNil(t, repaired.EndTime)
}
