package query

import (
	"context"

	"github.com/lattice-run/agentcore/runtime/agent/session"
)

// Node is one entry of a session tree: a session's details plus its
// children, each resolved through the owning Registry.
type Node struct {
	SessionID    string
	InstanceName string
	Depth        int
	Metadata     session.Metadata
	Statistics   session.Statistics
	Children     []*Node
}

// BuildSessionTree recursively descends from sessionID via each session's
// statistics.subsessions list, resolving each child's storage location by
// its recorded instance_name. Cycles are prevented by a visited set;
// max_depth truncates regardless of cycles.
func (q *Query) BuildSessionTree(sessionID, instanceName string, includeMessages bool, maxDepth int) (*Node, error) {
	visited := make(map[string]struct{})
	return q.buildNode(sessionID, instanceName, 0, maxDepth, visited)
}

func (q *Query) buildNode(sessionID, instanceName string, depth, maxDepth int, visited map[string]struct{}) (*Node, error) {
	mgr, err := q.managerFor(instanceName)
	if err != nil {
		return nil, err
	}

	s, err := mgr.GetSession(context.Background(), sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	node := &Node{
		SessionID:    sessionID,
		InstanceName: instanceName,
		Depth:        depth,
		Metadata:     s.Metadata(),
		Statistics:   s.Statistics(),
	}

	if _, seen := visited[sessionID]; seen {
		return node, nil
	}
	visited[sessionID] = struct{}{}

	if depth >= maxDepth {
		return node, nil
	}

	for _, link := range node.Statistics.Subsessions {
		child, err := q.buildNode(link.SessionID, link.InstanceName, depth+1, maxDepth, visited)
		if err != nil {
			continue
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func (q *Query) managerFor(instanceName string) (*session.Manager, error) {
	if instanceName == "" || instanceName == q.primary.InstanceName() {
		return q.primary, nil
	}
	if q.registry == nil {
		return q.primary, nil
	}
	return q.registry.ManagerFor(instanceName)
}

// FlattenTree emits a tree's nodes in pre-order, each annotated with its
// depth.
func FlattenTree(root *Node) []*Node {
	if root == nil {
		return nil
	}
	out := []*Node{root}
	for _, c := range root.Children {
		out = append(out, FlattenTree(c)...)
	}
	return out
}
