package query

import (
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
	"github.com/lattice-run/agentcore/runtime/agent/session"
)

func newTestQuery(t *testing.T, instanceName string) (*Query, *session.Manager) {
	t.Helper()
	root := t.TempDir()
	b := bus.NewInProcess()
	t.Cleanup(func() { _ = b.Close() })
	mgr, err := session.NewManager(root, instanceName, b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)
	return New(mgr, nil), mgr
}

func recordResult(t *testing.T, ctx context.Context, sess *session.Session, text string, isError bool) {
	t.Helper()
	env, err := message.NewEnvelope(message.TypeResult, time.Now(), message.ResultData{
		Subtype: "success",
		IsError: isError,
		Result:  text,
	})
	require.NoError(t, err)
	sess.RecordMessage(ctx, env)
}

func TestQuery_GetSessionDetailsIncludesMessagesWhenRequested(t *testing.T) {
	ctx := context.Background()
	q, mgr := newTestQuery(t, "demo")

	sess, err := mgr.CreateSession(ctx, "find the bug", nil, nil)
	require.NoError(t, err)
	recordResult(t, ctx, sess, "fixed it", false)
	require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	details, err := q.GetSessionDetails(sess.ID(), true, 0)
	require.NoError(t, err)
	require.Equal(t, "find the bug", details.Metadata.InitialPrompt)
	require.NotEmpty(t, details.Messages)
}

func TestQuery_GetSessionDetailsUnknownSessionReturnsNotFound(t *testing.T) {
	q, _ := newTestQuery(t, "demo")
	_, err := q.GetSessionDetails("does-not-exist", false, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQuery_SearchSessionsMatchesInitialPromptCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	q, mgr := newTestQuery(t, "demo")

	s1, err := mgr.CreateSession(ctx, "Refactor the Parser", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	s2, err := mgr.CreateSession(ctx, "add unit tests", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s2.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	results, err := q.SearchSessions("parser", SearchInitialPrompt, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, s1.ID(), results[0].Metadata.SessionID)
}

func TestQuery_GetStatisticsSummaryCountsByStatus(t *testing.T) {
	ctx := context.Background()
	q, mgr := newTestQuery(t, "demo")

	ok, err := mgr.CreateSession(ctx, "ok task", nil, nil)
	require.NoError(t, err)
	require.NoError(t, ok.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	bad, err := mgr.CreateSession(ctx, "bad task", nil, nil)
	require.NoError(t, err)
	require.NoError(t, bad.Finalize(ctx, &message.ResultData{Subtype: "error", IsError: true}, false))

	summary, err := q.GetStatisticsSummary(0)
	require.NoError(t, err)
	require.Equal(t, 2, summary.TotalSessions)
	require.Equal(t, 1, summary.CompletedCount)
	require.Equal(t, 1, summary.FailedCount)
}

func TestQuery_ExportSessionWritesJSONAndText(t *testing.T) {
	ctx := context.Background()
	q, mgr := newTestQuery(t, "demo")

	sess, err := mgr.CreateSession(ctx, "export me", nil, nil)
	require.NoError(t, err)
	recordResult(t, ctx, sess, "done", false)
	require.NoError(t, sess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	require.NoError(t, q.ExportSession(sess.ID(), jsonPath, ExportJSON, false))
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var details Details
	require.NoError(t, json.Unmarshal(raw, &details))
	require.Equal(t, sess.ID(), details.Metadata.SessionID)

	textPath := filepath.Join(dir, "out.txt")
	require.NoError(t, q.ExportSession(sess.ID(), textPath, ExportText, true))
	textRaw, err := os.ReadFile(textPath)
	require.NoError(t, err)
	require.Contains(t, string(textRaw), "result: done")
}
