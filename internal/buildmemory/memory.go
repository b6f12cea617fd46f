// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package buildmemory implements C3: the durable root entity of a build —
// phases, accumulated context, the error log, and atomically-written
// checkpoint snapshots that let a killed run resume.
//
// The teacher corpus's history/store.go persists JSON with a plain
// os.WriteFile; that is not atomic. The atomic temp-file-then-rename
// requirement of §4.3 is met here directly with os.CreateTemp + os.Rename,
// both standard library — no example in the retrieved corpus wraps this in
// a third-party library (it is normally hand-rolled even in
// dependency-heavy Go codebases), so this one corner of C3 is the
// documented standard-library exception recorded in DESIGN.md.
package buildmemory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ariadne-build/ariadne/internal/buildmodel"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ErrorLogEntry is one entry in the memory's error log.
type ErrorLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
	PhaseID   string         `json:"phase_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// CheckpointRecord names a snapshot for the retention policy and the
// on-disk manifest; the snapshot payload itself lives in the file.
type CheckpointRecord struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

// Memory is the durable root entity described in §3.
type Memory struct {
	mu sync.RWMutex

	ProjectID          string
	SpecificationHash  string
	BuildID            string
	Phases             []*buildmodel.Phase
	CompletedPhaseIDs  map[string]struct{}
	CurrentPhaseID     string
	Context            map[string]any
	CreatedFiles       map[string]struct{}
	ImportantDecisions []Decision
	PhaseContexts      map[string]map[string]any
	ErrorLog           []ErrorLogEntry
	Checkpoints        []CheckpointRecord

	CreatedAt time.Time
	UpdatedAt time.Time

	// byID is the O(1) phase index.
	byID map[string]*buildmodel.Phase
}

// Decision is one entry of the important-decisions audit log, indexed and
// evicted by importance the way original_source's MemoryStore evicts
// ContextEntry rows.
type Decision struct {
	ID         string         `json:"id"`
	Phase      string         `json:"phase"`
	Tag        string         `json:"tag"`
	Text       string         `json:"text"`
	Importance float64        `json:"importance"`
	AccessCount int           `json:"access_count"`
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DefaultMaxDecisions bounds the important-decisions log before pruning.
const DefaultMaxDecisions = 500

// New creates a fresh Memory rooted at specHash, with a newly-generated
// build id.
func New(projectID, specHash string) *Memory {
	now := time.Now()
	return &Memory{
		ProjectID:         projectID,
		SpecificationHash: specHash,
		BuildID:           uuid.NewString(),
		CompletedPhaseIDs: map[string]struct{}{},
		Context:           map[string]any{},
		CreatedFiles:      map[string]struct{}{},
		PhaseContexts:     map[string]map[string]any{},
		byID:              map[string]*buildmodel.Phase{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (m *Memory) touch() { m.UpdatedAt = time.Now() }

// AddPhase registers a phase and indexes it by id. Dependencies referring
// to absent ids are the planner's responsibility to prune before this
// point; Memory trusts the plan it is given.
func (m *Memory) AddPhase(p *buildmodel.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Phases = append(m.Phases, p)
	m.byID[p.ID] = p
	m.touch()
}

// Phase looks up a phase by id in O(1).
func (m *Memory) Phase(id string) (*buildmodel.Phase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	return p, ok
}

// MarkCompleted transitions a phase to Success, exports its context, and
// records it as completed.
func (m *Memory) MarkCompleted(id string, ctx map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("mark completed: unknown phase %q", id)
	}
	p.Status = buildmodel.PhaseSuccess
	p.EndTime = time.Now()
	m.CompletedPhaseIDs[id] = struct{}{}
	m.PhaseContexts[id] = ctx
	for k, v := range ctx {
		m.Context[k] = v
	}
	for _, f := range p.FilesCreated {
		m.CreatedFiles[f] = struct{}{}
	}
	m.touch()
	return nil
}

// LogError appends an entry to the error log.
func (m *Memory) LogError(err error, phaseID string, ctx map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorLog = append(m.ErrorLog, ErrorLogEntry{
		Timestamp: time.Now(),
		Error:     err.Error(),
		PhaseID:   phaseID,
		Context:   ctx,
	})
	m.touch()
}

// AddDecision appends to the important-decisions audit log and prunes if
// the log exceeds DefaultMaxDecisions, evicting the lowest
// importance*(1+access_count) entries down to 70% of the cap — the
// eviction rule ported from original_source's MemoryStore._cleanup.
func (m *Memory) AddDecision(d Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.ImportantDecisions = append(m.ImportantDecisions, d)
	m.prune()
	m.touch()
}

func (m *Memory) prune() {
	if len(m.ImportantDecisions) <= DefaultMaxDecisions {
		return
	}
	target := int(float64(DefaultMaxDecisions) * 0.7)
	sorted := append([]Decision(nil), m.ImportantDecisions...)
	sort.Slice(sorted, func(i, j int) bool {
		scoreI := sorted[i].Importance * (1 + float64(sorted[i].AccessCount))
		scoreJ := sorted[j].Importance * (1 + float64(sorted[j].AccessCount))
		return scoreI > scoreJ
	})
	if target < len(sorted) {
		sorted = sorted[:target]
	}
	m.ImportantDecisions = sorted
}

// RecentDecisions returns the n most recently-created decisions, used by
// the Prompt Composer's "last N important decisions" section.
func (m *Memory) RecentDecisions(n int) []Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sorted := append([]Decision(nil), m.ImportantDecisions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// AccumulatedContext merges the base context with the phase_contexts of
// every phase whose position precedes upToPhase in plan order. Keys that
// any phase exported are taken from that phase's context only, not from
// the aggregated m.Context, so later phases' exports never leak in.
func (m *Memory) AccumulatedContext(upToPhase string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exported := map[string]struct{}{}
	for _, ctx := range m.PhaseContexts {
		for k := range ctx {
			exported[k] = struct{}{}
		}
	}
	merged := map[string]any{}
	for k, v := range m.Context {
		if _, ok := exported[k]; ok {
			continue
		}
		merged[k] = v
	}

	targetIdx := -1
	for i, p := range m.Phases {
		if p.ID == upToPhase {
			targetIdx = i
			break
		}
	}
	if targetIdx == -1 {
		targetIdx = len(m.Phases)
	}
	for i := 0; i < targetIdx; i++ {
		id := m.Phases[i].ID
		if ctx, ok := m.PhaseContexts[id]; ok {
			for k, v := range ctx {
				merged[k] = v
			}
		}
	}
	return merged
}

// snapshot is the on-disk JSON representation of Memory.
type snapshot struct {
	ProjectID          string                        `json:"project_id"`
	SpecificationHash  string                        `json:"specification_hash"`
	BuildID            string                        `json:"build_id"`
	Phases             []*buildmodel.Phase           `json:"phases"`
	CompletedPhaseIDs  []string                      `json:"completed_phases"`
	CurrentPhaseID     string                        `json:"current_phase"`
	Context            map[string]any                `json:"context"`
	CreatedFiles       []string                      `json:"created_files"`
	ImportantDecisions []Decision                    `json:"important_decisions"`
	PhaseContexts      map[string]map[string]any     `json:"phase_contexts"`
	ErrorLog           []ErrorLogEntry               `json:"error_log"`
	Checkpoints        []CheckpointRecord            `json:"checkpoints"`
	CreatedAt          time.Time                     `json:"created_at"`
	UpdatedAt          time.Time                     `json:"updated_at"`
}

func (m *Memory) toSnapshot() snapshot {
	completed := make([]string, 0, len(m.CompletedPhaseIDs))
	for id := range m.CompletedPhaseIDs {
		completed = append(completed, id)
	}
	sort.Strings(completed)

	files := make([]string, 0, len(m.CreatedFiles))
	for f := range m.CreatedFiles {
		files = append(files, f)
	}
	sort.Strings(files)

	return snapshot{
		ProjectID:          m.ProjectID,
		SpecificationHash:  m.SpecificationHash,
		BuildID:            m.BuildID,
		Phases:             m.Phases,
		CompletedPhaseIDs:  completed,
		CurrentPhaseID:     m.CurrentPhaseID,
		Context:            m.Context,
		CreatedFiles:       files,
		ImportantDecisions: m.ImportantDecisions,
		PhaseContexts:      m.PhaseContexts,
		ErrorLog:           m.ErrorLog,
		Checkpoints:        m.Checkpoints,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func fromSnapshot(s snapshot) *Memory {
	m := &Memory{
		ProjectID:          s.ProjectID,
		SpecificationHash:  s.SpecificationHash,
		BuildID:            s.BuildID,
		Phases:             s.Phases,
		CompletedPhaseIDs:  map[string]struct{}{},
		CurrentPhaseID:     s.CurrentPhaseID,
		Context:            s.Context,
		CreatedFiles:       map[string]struct{}{},
		ImportantDecisions: s.ImportantDecisions,
		PhaseContexts:      s.PhaseContexts,
		ErrorLog:           s.ErrorLog,
		Checkpoints:        s.Checkpoints,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		byID:               map[string]*buildmodel.Phase{},
	}
	if m.Context == nil {
		m.Context = map[string]any{}
	}
	if m.PhaseContexts == nil {
		m.PhaseContexts = map[string]map[string]any{}
	}
	for _, id := range s.CompletedPhaseIDs {
		m.CompletedPhaseIDs[id] = struct{}{}
	}
	for _, f := range s.CreatedFiles {
		m.CreatedFiles[f] = struct{}{}
	}
	for _, p := range m.Phases {
		m.byID[p.ID] = p
	}
	return m
}

// Checkpoint writes a named, timestamped snapshot to dir, atomically
// (write to a sibling temp file, then rename into place), and records it
// in the checkpoint manifest. Checkpoints are append-only.
func (m *Memory) Checkpoint(dir, name string) (string, error) {
	m.mu.Lock()
	snap := m.toSnapshot()
	epoch := time.Now().UnixNano()
	filename := fmt.Sprintf("%s_%d.json", name, epoch)
	finalPath := filepath.Join(dir, filename)
	record := CheckpointRecord{Name: name, Timestamp: time.Now(), Path: finalPath}
	m.Checkpoints = append(m.Checkpoints, record)
	m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("checkpoint marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-checkpoint-*")
	if err != nil {
		return "", fmt.Errorf("checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("checkpoint write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("checkpoint sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("checkpoint close: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("checkpoint rename: %w", err)
	}

	m.applyRetention(dir)
	return finalPath, nil
}

// retentionExempt matches checkpoint names kept regardless of the
// most-recent-N retention window.
func retentionExempt(name string) bool {
	for _, kw := range []string{"emergency", "final", "interrupted", "failed"} {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// applyRetention keeps the N (default 20) most-recent checkpoint files on
// disk plus anything exempt, deleting the rest. It operates on the files
// actually present in dir, not only this process's in-memory manifest, so
// it is correct even across resumed runs.
func (m *Memory) applyRetention(dir string) {
	const defaultRetention = 20

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type fileInfo struct {
		name  string
		epoch int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		epoch, err := strconv.ParseInt(base[idx+1:], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), epoch: epoch})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].epoch > files[j].epoch })

	kept := 0
	for _, f := range files {
		if retentionExempt(f.name) {
			continue
		}
		kept++
		if kept > defaultRetention {
			os.Remove(filepath.Join(dir, f.name))
		}
	}
}

// WatchCheckpoints watches dir for checkpoint files written by another
// process (e.g. a separate monitoring/report tool tailing a live build)
// and invokes onCreate with the path of each new snapshot file as it
// appears. It returns the underlying watcher so the caller can Close it;
// the watch runs in its own goroutine until the watcher is closed.
func (m *Memory) WatchCheckpoints(dir string, onCreate func(path string)) (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("watch checkpoints: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch checkpoints: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch checkpoints: %w", err)
	}
	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") || strings.Contains(event.Name, ".tmp-") {
				continue
			}
			onCreate(event.Name)
		}
	}()
	return watcher, nil
}

// PersistSnapshot writes an unconditional "manual" snapshot, used for
// ad hoc persistence outside the checkpoint-naming convention (e.g.
// tests exercising round-trip behavior).
func (m *Memory) PersistSnapshot(dir string) (string, error) {
	return m.Checkpoint(dir, "manual")
}

// LoadLatest loads the newest snapshot in dir, falling back to older ones
// if the newest is malformed, until one parses; if none parse it signals
// ErrNoResumableState-equivalent via the returned bool being false.
func LoadLatest(dir string) (*Memory, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load latest: %w", err)
	}

	type fileInfo struct {
		name  string
		epoch int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		idx := strings.LastIndex(base, "_")
		if idx < 0 {
			continue
		}
		epoch, err := strconv.ParseInt(base[idx+1:], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), epoch: epoch})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].epoch > files[j].epoch })

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			continue
		}
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue // kind 9: snapshot corruption, fall back to the next older one
		}
		return fromSnapshot(snap), true, nil
	}
	return nil, false, nil
}
