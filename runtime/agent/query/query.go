// Package query implements SessionQuery: the unified read API over one or
// more instances' session stores (details, list, search, export,
// statistics), the cross-instance session tree builder, and live
// subscription with automatic child discovery.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lattice-run/agentcore/runtime/agent/message"
	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
	"github.com/lattice-run/agentcore/runtime/agent/session"
)

// ErrNotFound is returned by GetSessionDetails (and propagated by callers
// that key off it) when the named session directory does not exist.
var ErrNotFound = errors.New("query: session not found")

// Registry resolves an instance name to the Manager that owns its session
// store. BuildSessionTree needs this because a subsession link may name a
// child living in a different instance than its parent.
type Registry interface {
	ManagerFor(instanceName string) (*session.Manager, error)
}

// Query is the unified read API for one primary instance, with access to
// sibling instances through a Registry for tree traversal.
type Query struct {
	primary  *session.Manager
	registry Registry
}

// New constructs a Query bound to the primary instance's Manager, resolving
// other instances (for tree building) through registry.
func New(primary *session.Manager, registry Registry) *Query {
	return &Query{primary: primary, registry: registry}
}

// Details is the merged view GetSessionDetails returns.
type Details struct {
	Metadata    session.Metadata
	Statistics  session.Statistics
	Messages    []message.Envelope
	Subsessions []session.SubsessionLink
}

// GetSessionDetails merges metadata, statistics, an optional message prefix,
// and the inline list of linked subsessions from statistics.
func (q *Query) GetSessionDetails(sessionID string, includeMessages bool, messageLimit int) (Details, error) {
	s, err := q.primary.GetSession(context.Background(), sessionID)
	if err != nil {
		return Details{}, ErrNotFound
	}
	d := Details{
		Metadata:    s.Metadata(),
		Statistics:  s.Statistics(),
		Subsessions: s.Statistics().Subsessions,
	}
	if includeMessages {
		msgs, err := q.GetSessionMessages(sessionID, nil, messageLimit)
		if err != nil {
			return Details{}, err
		}
		d.Messages = msgs
	}
	return d, nil
}

// GetSessionMessages streams messages.jsonl for sessionID, optionally
// filtering to the given message types (nil means all), up to limit records
// (0 means unlimited). A partially-written final line is skipped, not
// treated as a parse error.
func (q *Query) GetSessionMessages(sessionID string, types []message.Type, limit int) ([]message.Envelope, error) {
	path := q.primary.MessagesPath(sessionID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, runtimeerr.NewSessionError(sessionID, "read messages", err)
	}

	wanted := make(map[message.Type]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	var out []message.Envelope
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var env message.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			// Partial last line: tolerated, not an error.
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[env.MessageType]; !ok {
				continue
			}
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListSessions proxies Manager.ListSessions.
func (q *Query) ListSessions(status *session.Status, limit, offset int) ([]session.Summary, error) {
	return q.primary.ListSessions(status, limit, offset)
}

// SearchField names which field SearchSessions matches against.
type SearchField string

const (
	SearchInitialPrompt SearchField = "initial_prompt"
	SearchResult        SearchField = "result"
)

// SearchSessions performs a case-insensitive linear substring scan over the
// named field across all sessions.
func (q *Query) SearchSessions(queryStr string, field SearchField, limit int) ([]session.Summary, error) {
	all, err := q.primary.ListSessions(nil, 0, 0)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(queryStr)

	var out []session.Summary
	for _, s := range all {
		var haystack string
		switch field {
		case SearchInitialPrompt:
			haystack = s.Metadata.InitialPrompt
		case SearchResult:
			msgs, err := q.GetSessionMessages(s.Metadata.SessionID, []message.Type{message.TypeResult}, 1)
			if err == nil && len(msgs) > 0 {
				if r, err := msgs[len(msgs)-1].DecodeResult(); err == nil {
					haystack = r.Result
				}
			}
		}
		if strings.Contains(strings.ToLower(haystack), needle) {
			out = append(out, s)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// StatisticsSummary is GetStatisticsSummary's aggregate result.
type StatisticsSummary struct {
	TotalSessions    int
	CompletedCount   int
	FailedCount      int
	InterruptedCount int
	TotalCostUSD     float64
	AverageDurationMs float64
}

// GetStatisticsSummary aggregates counts, completed/failed ratios, total
// cost, and average duration across all sessions, optionally restricted to
// the last recentDays (0 means all time).
func (q *Query) GetStatisticsSummary(recentDays int) (StatisticsSummary, error) {
	all, err := q.primary.ListSessions(nil, 0, 0)
	if err != nil {
		return StatisticsSummary{}, err
	}

	var cutoff time.Time
	if recentDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -recentDays)
	}

	var sum StatisticsSummary
	var totalDuration int64
	for _, s := range all {
		if recentDays > 0 && s.Metadata.StartTime.Before(cutoff) {
			continue
		}
		sum.TotalSessions++
		switch s.Metadata.Status {
		case session.StatusCompleted:
			sum.CompletedCount++
		case session.StatusFailed:
			sum.FailedCount++
		case session.StatusInterrupted:
			sum.InterruptedCount++
		}
		sum.TotalCostUSD += s.Statistics.CostUSD
		totalDuration += s.Statistics.TotalDurationMs
	}
	if sum.TotalSessions > 0 {
		sum.AverageDurationMs = float64(totalDuration) / float64(sum.TotalSessions)
	}
	return sum, nil
}

// ExportFormat names ExportSession's output shapes.
type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportJSONL ExportFormat = "jsonl"
	ExportText  ExportFormat = "text"
)

// ExportSession writes sessionID's recorded state to outputPath in the
// requested format.
func (q *Query) ExportSession(sessionID, outputPath string, format ExportFormat, includeMessages bool) error {
	details, err := q.GetSessionDetails(sessionID, includeMessages || format != ExportJSON, 0)
	if err != nil {
		return err
	}

	var out []byte
	switch format {
	case ExportJSON:
		out, err = json.MarshalIndent(details, "", "  ")
	case ExportJSONL:
		var b strings.Builder
		for _, m := range details.Messages {
			raw, mErr := json.Marshal(m)
			if mErr != nil {
				return mErr
			}
			b.Write(raw)
			b.WriteByte('\n')
		}
		out = []byte(b.String())
	case ExportText:
		out = []byte(renderText(details))
	default:
		return runtimeerr.NewConfigError("format", "must be one of json, jsonl, text")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return runtimeerr.NewSessionError(sessionID, "export", err)
	}
	return os.WriteFile(outputPath, out, 0o644)
}

func renderText(d Details) string {
	var b strings.Builder
	b.WriteString("session " + d.Metadata.SessionID + " (" + string(d.Metadata.Status) + ")\n")
	for _, m := range d.Messages {
		switch m.MessageType {
		case message.TypeUser:
			if u, err := m.DecodeUser(); err == nil {
				b.WriteString("user: " + u.Content + "\n")
			}
		case message.TypeAssistant:
			if a, err := m.DecodeAssistant(); err == nil {
				for _, block := range a.Content {
					if block.Type == message.BlockText {
						b.WriteString("assistant: " + block.Text + "\n")
					}
				}
			}
		case message.TypeResult:
			if r, err := m.DecodeResult(); err == nil {
				b.WriteString("result: " + r.Result + "\n")
			}
		}
	}
	return b.String()
}
