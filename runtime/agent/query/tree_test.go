package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-run/agentcore/config"
	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
	"github.com/lattice-run/agentcore/runtime/agent/session"
)

func TestBuildSessionTree_FollowsSubsessionLinksAndComputesDepth(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b := bus.NewInProcess()
	defer b.Close()
	mgr, err := session.NewManager(root, "demo", b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)

	parent, err := mgr.CreateSession(ctx, "parent", nil, nil)
	require.NoError(t, err)
	parentID := parent.ID()

	child, err := mgr.CreateSession(ctx, "child", nil, &parentID)
	require.NoError(t, err)
	parent.AppendSubsessionLink(child.ID(), "sub_claude_reviewer", "tooluse_1", "demo", 1)
	require.NoError(t, parent.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))
	require.NoError(t, child.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	q := New(mgr, nil)
	tree, err := q.BuildSessionTree(parentID, "demo", false, 10)
	require.NoError(t, err)
	require.Equal(t, parentID, tree.SessionID)
	require.Len(t, tree.Children, 1)
	require.Equal(t, child.ID(), tree.Children[0].SessionID)
	require.Equal(t, 1, tree.Children[0].Depth)
}

func TestBuildSessionTree_MaxDepthTruncates(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b := bus.NewInProcess()
	defer b.Close()
	mgr, err := session.NewManager(root, "demo", b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)

	a, err := mgr.CreateSession(ctx, "a", nil, nil)
	require.NoError(t, err)
	aID := a.ID()
	bSess, err := mgr.CreateSession(ctx, "b", nil, &aID)
	require.NoError(t, err)
	bID := bSess.ID()
	cSess, err := mgr.CreateSession(ctx, "c", nil, &bID)
	require.NoError(t, err)

	a.AppendSubsessionLink(bID, "sub_claude_x", "t1", "demo", 1)
	bSess.AppendSubsessionLink(cSess.ID(), "sub_claude_y", "t2", "demo", 2)
	require.NoError(t, a.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))
	require.NoError(t, bSess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))
	require.NoError(t, cSess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	q := New(mgr, nil)
	tree, err := q.BuildSessionTree(aID, "demo", false, 1)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	require.Empty(t, tree.Children[0].Children, "max_depth=1 must stop before descending into c")
}

func TestBuildSessionTree_CycleDoesNotInfiniteLoop(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b := bus.NewInProcess()
	defer b.Close()
	mgr, err := session.NewManager(root, "demo", b, config.AsyncWriteConfig{BatchSize: 1, FlushInterval: time.Hour}, nil)
	require.NoError(t, err)

	a, err := mgr.CreateSession(ctx, "a", nil, nil)
	require.NoError(t, err)
	bSess, err := mgr.CreateSession(ctx, "b", nil, nil)
	require.NoError(t, err)

	// Manufacture a cycle: a links to b, b links back to a.
	a.AppendSubsessionLink(bSess.ID(), "sub_claude_x", "t1", "demo", 1)
	bSess.AppendSubsessionLink(a.ID(), "sub_claude_y", "t2", "demo", 2)
	require.NoError(t, a.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))
	require.NoError(t, bSess.Finalize(ctx, &message.ResultData{Subtype: "success"}, false))

	q := New(mgr, nil)

	done := make(chan struct{})
	go func() {
		_, _ = q.BuildSessionTree(a.ID(), "demo", false, 50)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BuildSessionTree did not terminate on a cyclic subsession graph")
	}
}

func TestFlattenTree_PreOrder(t *testing.T) {
	root := &Node{SessionID: "root", Children: []*Node{
		{SessionID: "a"},
		{SessionID: "b", Children: []*Node{{SessionID: "b1"}}},
	}}
	flat := FlattenTree(root)
	ids := make([]string, len(flat))
	for i, n := range flat {
		ids[i] = n.SessionID
	}
	require.Equal(t, []string{"root", "a", "b", "b1"}, ids)
}
