package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/lattice-run/agentcore/config"
	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/jsonl"
	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
	"github.com/lattice-run/agentcore/runtime/agent/telemetry"
)

// crashRepairGrace is how long a running session's last JSONL line may go
// untouched before a dead-pid session is considered interrupted rather than
// merely slow.
const crashRepairGrace = 5 * time.Minute

// Manager is the factory and registry of sessions for one instance: it owns
// the instance's sessions directory layout and the in-memory map of the
// Sessions it has created or opened (a Session stays registered after it is
// finalized).
type Manager struct {
	instanceName string
	instanceRoot string // {instances_root}/{instance_name}
	bus          bus.Bus
	asyncCfg     config.AsyncWriteConfig
	logger       telemetry.Logger

	mu   sync.Mutex
	live map[string]*Session
}

// NewManager constructs a Manager for one instance and runs the crash-repair
// scan described in the error-handling design: any session directory still
// marked status=running whose owning process no longer exists, and whose
// last JSONL line is older than the grace period, is rewritten as
// interrupted.
func NewManager(instancesRoot, instanceName string, b bus.Bus, asyncCfg config.AsyncWriteConfig, logger telemetry.Logger) (*Manager, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	m := &Manager{
		instanceName: instanceName,
		instanceRoot: filepath.Join(instancesRoot, instanceName),
		bus:          b,
		asyncCfg:     asyncCfg,
		logger:       logger,
		live:         make(map[string]*Session),
	}
	if err := os.MkdirAll(m.sessionsDir(), 0o755); err != nil {
		return nil, runtimeerr.NewSessionError("", "manager.init", err)
	}
	m.repairCrashed(context.Background())
	return m, nil
}

func (m *Manager) sessionsDir() string { return filepath.Join(m.instanceRoot, "sessions") }

func (m *Manager) sessionDir(id string) string { return filepath.Join(m.sessionsDir(), id) }

// MessagesPath returns the path to a session's messages.jsonl file, for
// callers (SessionQuery) that read it directly rather than through a live
// Session handle.
func (m *Manager) MessagesPath(id string) string { return filepath.Join(m.sessionDir(id), messagesFile) }

// InstanceName returns the name of the instance this Manager owns sessions for.
func (m *Manager) InstanceName() string { return m.instanceName }

// CreateSession allocates a new session id, computes depth from the parent
// (0 if none), starts it, and registers it as live.
func (m *Manager) CreateSession(ctx context.Context, initialPrompt string, sctx map[string]any, parentSessionID *string) (*Session, error) {
	depth := 0
	if parentSessionID != nil {
		if parent, err := m.GetSession(ctx, *parentSessionID); err == nil {
			depth = parent.Metadata().Depth + 1
		}
	}

	id := NewID(time.Now())
	dir := m.sessionDir(id)
	w, err := jsonl.Open(filepath.Join(dir, messagesFile), m.asyncCfg, m.logger)
	if err != nil {
		// jsonl.Open needs the directory to already exist.
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, runtimeerr.NewSessionError(id, "create", mkErr)
		}
		w, err = jsonl.Open(filepath.Join(dir, messagesFile), m.asyncCfg, m.logger)
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		dir:          dir,
		instanceName: m.instanceName,
		bus:          m.bus,
		writer:       w,
		logger:       m.logger,
		metadata: Metadata{
			SessionID:       id,
			InstanceName:    m.instanceName,
			OwnerPID:        os.Getpid(),
			StartTime:       time.Now().UTC(),
			Status:          StatusRunning,
			Depth:           depth,
			ParentSessionID: parentSessionID,
			InitialPrompt:   initialPrompt,
			Context:         sctx,
		},
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.live[id] = s
	m.mu.Unlock()
	return s, nil
}

// GetSession returns the live Session if one is registered; otherwise it
// hydrates a Session from disk, with metadata (status included) as last
// written and in-memory statistics from the last written statistics.json,
// if any, opens its transcript for appending, and registers it. Only Resume
// sets a hydrated session back to running.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.live[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	dir := m.sessionDir(id)
	meta, err := readMetadata(dir)
	if err != nil {
		return nil, runtimeerr.NewSessionError(id, "get", err)
	}
	stats, _ := readStatistics(dir)

	w, err := jsonl.Open(filepath.Join(dir, messagesFile), m.asyncCfg, m.logger)
	if err != nil {
		return nil, err
	}
	s := &Session{
		dir:          dir,
		instanceName: m.instanceName,
		bus:          m.bus,
		writer:       w,
		logger:       m.logger,
		metadata:     meta,
		statistics:   stats,
	}

	m.mu.Lock()
	m.live[id] = s
	m.mu.Unlock()
	return s, nil
}

// Resume reopens id as a resumed session: metadata is updated in place and
// resume_of is set to the prior session id the caller is branching from. A
// same-id resume (resumeOf empty or equal to id) leaves resume_of untouched.
// A registered Session that is already finalized has closed its writer, so
// it is dropped and reopened from disk.
func (m *Manager) Resume(ctx context.Context, id, resumeOf string) (*Session, error) {
	m.mu.Lock()
	if prior, ok := m.live[id]; ok {
		prior.mu.Lock()
		done := prior.finalized
		prior.mu.Unlock()
		if done {
			delete(m.live, id)
		}
	}
	m.mu.Unlock()

	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.metadata.Status = StatusRunning
	s.metadata.EndTime = nil
	s.metadata.OwnerPID = os.Getpid()
	if resumeOf != "" && resumeOf != id {
		s.metadata.ResumeOf = &resumeOf
	}
	s.mu.Unlock()
	return s, s.Start(ctx)
}

// ListSessions scans the instance's sessions directory, ordering by session
// id descending (newest first, since ids are lexicographically sortable by
// creation time), applying an optional status filter and pagination.
func (m *Manager) ListSessions(status *Status, limit, offset int) ([]Summary, error) {
	entries, err := os.ReadDir(m.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, runtimeerr.NewSessionError("", "list", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var out []Summary
	for _, id := range ids {
		meta, err := readMetadata(m.sessionDir(id))
		if err != nil {
			continue
		}
		if status != nil && meta.Status != *status {
			continue
		}
		stats, _ := readStatistics(m.sessionDir(id))
		out = append(out, Summary{Metadata: meta, Statistics: stats})
	}

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// CleanupReport describes the outcome of CleanupOldSessions.
type CleanupReport struct {
	Deleted []string
	Kept    []string
}

// CleanupOldSessions deletes session directories whose start_time is older
// than retentionDays. dryRun reports what would be deleted without touching
// disk.
func (m *Manager) CleanupOldSessions(retentionDays int, dryRun bool) (CleanupReport, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(m.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return CleanupReport{}, nil
		}
		return CleanupReport{}, runtimeerr.NewSessionError("", "cleanup", err)
	}

	var report CleanupReport
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := m.sessionDir(e.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			continue
		}
		if meta.StartTime.Before(cutoff) {
			report.Deleted = append(report.Deleted, e.Name())
			if !dryRun {
				_ = os.RemoveAll(dir)
				m.mu.Lock()
				delete(m.live, e.Name())
				m.mu.Unlock()
			}
		} else {
			report.Kept = append(report.Kept, e.Name())
		}
	}
	return report, nil
}

// repairCrashed scans for sessions still marked running whose owning
// process is dead and whose last JSONL line predates the grace period,
// rewriting them as interrupted.
func (m *Manager) repairCrashed(ctx context.Context) {
	entries, err := os.ReadDir(m.sessionsDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := m.sessionDir(e.Name())
		meta, err := readMetadata(dir)
		if err != nil || meta.Status != StatusRunning {
			continue
		}
		if pidAlive(meta.OwnerPID) {
			continue
		}

		lastLineAt, ok := lastMessageTimestamp(filepath.Join(dir, messagesFile))
		if !ok {
			lastLineAt = meta.StartTime
		}
		if time.Since(lastLineAt) < crashRepairGrace {
			continue
		}

		end := lastLineAt
		if end.IsZero() {
			end = time.Now().UTC()
		}
		meta.Status = StatusInterrupted
		meta.EndTime = &end
		if err := writeJSONFile(filepath.Join(dir, metadataFile), meta, meta.SessionID); err != nil {
			m.logger.Error(ctx, "crash repair: failed to rewrite metadata", "session_id", meta.SessionID, "error", err.Error())
		}
	}
}

func readMetadata(dir string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	return m, json.Unmarshal(raw, &m)
}

func readStatistics(dir string) (Statistics, error) {
	raw, err := os.ReadFile(filepath.Join(dir, statisticsFile))
	if err != nil {
		return Statistics{}, err
	}
	var s Statistics
	return s, json.Unmarshal(raw, &s)
}

// lastMessageTimestamp scans messages.jsonl for the timestamp of its last
// complete line, tolerating a partially-written final line.
func lastMessageTimestamp(path string) (time.Time, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	lines := splitLines(raw)
	for i := len(lines) - 1; i >= 0; i-- {
		var env struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if json.Unmarshal(lines[i], &env) == nil {
			return env.Timestamp, true
		}
	}
	return time.Time{}, false
}

func splitLines(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			lines = append(lines, raw[start:i])
			start = i + 1
		}
	}
	return lines
}

// pidAlive reports whether pid currently exists.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
