package game

import (
	"compress/gzip"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const replayFormatVersion = 1

// ReplayEntry is one committed action with the dice it consumed and the
// checksum of the session right after it.
type ReplayEntry struct {
	Command  Command
	Rolls    []Dice
	Version  int64
	Checksum string
}

// Replay is a session's starting state plus its ordered action log.
type Replay struct {
	SessionID string
	Initial   *Session
	Entries   []ReplayEntry
	mu        sync.RWMutex
}

// NewReplay starts a log from the given state.
func NewReplay(initial *Session) *Replay {
	return &Replay{SessionID: initial.ID, Initial: initial.Clone()}
}

func (r *Replay) append(entry ReplayEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, entry)
}

// Size returns the number of recorded actions.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Entries)
}

// EntryAt returns the entry at index, if any.
func (r *Replay) EntryAt(index int) (ReplayEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.Entries) {
		return ReplayEntry{}, false
	}
	return r.Entries[index], true
}

// Verify re-applies every entry to the initial state with the recorded dice
// and checks each resulting checksum. It returns the final session. The
// initial state goes through a gob round trip first, so a passing replay also
// shows that a reloaded session plays on identically.
func (r *Replay) Verify(e *Engine) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := SerializeToBytes(r.Initial)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", r.SessionID, err)
	}
	initial, err := DeserializeFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", r.SessionID, err)
	}

	ve := NewEngine(discardStore{}, nil, e.cfg, WithBoard(e.board), WithCatalog(e.interpreter.Catalog()))
	m, err := ve.Resume(initial)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", r.SessionID, err)
	}
	ctx := context.Background()
	for i, entry := range r.Entries {
		m.dice = NewFixedDice(entry.Rolls...)
		if _, err := m.Execute(ctx, entry.Command); err != nil {
			return nil, fmt.Errorf("replay %s entry %d (%s): %w", r.SessionID, i, entry.Command.Type, err)
		}
		ok, err := VerifyChecksum(m.session, &SerializationChecksum{Hash: entry.Checksum})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("replay %s diverged at entry %d (%s): version %d", r.SessionID, i, entry.Command.Type, entry.Version)
		}
	}
	return m.Snapshot(), nil
}

// SaveToFile writes the replay as gzip-compressed gob.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(filepath.Join(directory, r.SessionID+".replay"))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	encoder := gob.NewEncoder(gz)
	metadata := replayMetadata{
		SessionID:  r.SessionID,
		Timestamp:  time.Now(),
		Version:    replayFormatVersion,
		EntryCount: len(r.Entries),
	}
	if err := encoder.Encode(&metadata); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := encoder.Encode(r.Initial); err != nil {
		return fmt.Errorf("failed to encode initial state: %w", err)
	}
	for i := range r.Entries {
		if err := encoder.Encode(&r.Entries[i]); err != nil {
			return fmt.Errorf("failed to encode entry %d: %w", i, err)
		}
	}
	return gz.Close()
}

// LoadReplayFromFile reads a replay written by SaveToFile.
func LoadReplayFromFile(directory, sessionID string) (*Replay, error) {
	file, err := os.Open(filepath.Join(directory, sessionID+".replay"))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	decoder := gob.NewDecoder(gz)
	var metadata replayMetadata
	if err := decoder.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata.Version != replayFormatVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", metadata.Version)
	}
	var initial Session
	if err := decoder.Decode(&initial); err != nil {
		return nil, fmt.Errorf("failed to decode initial state: %w", err)
	}
	replay := &Replay{SessionID: metadata.SessionID, Initial: &initial}
	for i := 0; i < metadata.EntryCount; i++ {
		var entry ReplayEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", i, err)
		}
		replay.Entries = append(replay.Entries, entry)
	}
	return replay, nil
}

type replayMetadata struct {
	SessionID  string
	Timestamp  time.Time
	Version    int
	EntryCount int
}

// ReplayRecorder keeps an action log per session and flushes it to disk
// when the game finishes.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay
	saveDir string
	pending sync.WaitGroup
}

func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// Record appends a committed action. before is the session as it was prior
// to the action and seeds the log on first use.
func (rr *ReplayRecorder) Record(before, after *Session, cmd Command, rolls []Dice) {
	sum, err := ComputeChecksum(after)
	if err != nil {
		if rr.logger != nil {
			rr.logger.Error("replay checksum failed", zap.String("session_id", after.ID), zap.Error(err))
		}
		return
	}

	rr.mu.Lock()
	replay, ok := rr.replays[after.ID]
	if !ok {
		replay = NewReplay(before)
		rr.replays[after.ID] = replay
	}
	rr.mu.Unlock()

	replay.append(ReplayEntry{
		Command:  cmd,
		Rolls:    append([]Dice(nil), rolls...),
		Version:  after.Version,
		Checksum: sum.Hash,
	})
	if rr.logger != nil {
		rr.logger.Debug("recorded replay entry",
			zap.String("session_id", after.ID),
			zap.Int64("version", after.Version),
			zap.String("action", string(cmd.Type)),
		)
	}
}

// saveInBackground writes a finished session's log to disk off the session
// lock.
func (rr *ReplayRecorder) saveInBackground(sessionID string) {
	if rr.saveDir == "" {
		return
	}
	rr.pending.Add(1)
	go func() {
		defer rr.pending.Done()
		if err := rr.SaveReplay(sessionID); err != nil && rr.logger != nil {
			rr.logger.Error("failed to save replay", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// Wait blocks until background saves have finished.
func (rr *ReplayRecorder) Wait() {
	rr.pending.Wait()
}

// GetReplay returns the in-memory log for a session.
func (rr *ReplayRecorder) GetReplay(sessionID string) (*Replay, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	replay, ok := rr.replays[sessionID]
	return replay, ok
}

// SaveReplay writes a log to disk and drops it from memory.
func (rr *ReplayRecorder) SaveReplay(sessionID string) error {
	rr.mu.Lock()
	replay, ok := rr.replays[sessionID]
	if !ok {
		rr.mu.Unlock()
		return fmt.Errorf("no replay found for session %s", sessionID)
	}
	delete(rr.replays, sessionID)
	rr.mu.Unlock()

	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("failed to save replay: %w", err)
	}
	if rr.logger != nil {
		rr.logger.Info("saved replay to disk",
			zap.String("session_id", sessionID),
			zap.Int("entries", replay.Size()),
			zap.String("directory", rr.saveDir),
		)
	}
	return nil
}

// LoadReplay reads a saved log.
func (rr *ReplayRecorder) LoadReplay(sessionID string) (*Replay, error) {
	return LoadReplayFromFile(rr.saveDir, sessionID)
}

// ClearReplay forgets a log without saving it.
func (rr *ReplayRecorder) ClearReplay(sessionID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	delete(rr.replays, sessionID)
}

// discardStore accepts every commit. Replays verify in memory only.
type discardStore struct{}

func (discardStore) LoadSession(context.Context, string) (*Session, error) {
	return nil, ErrSessionNotFound
}
func (discardStore) Commit(context.Context, *Session, string) error { return nil }
func (discardStore) DeleteSession(context.Context, string) error   { return nil }
