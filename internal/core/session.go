package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/alignoracle/internal/core/model"
)

// Session is the state one run carries between controller states. It is
// created at run start, checkpointed after alignment and consultation, and
// discarded when the run ends.
type Session struct {
	mu sync.RWMutex

	RunID       string                                  `json:"run_id"`
	ResumedFrom string                                  `json:"resumed_from,omitempty"`
	Task        string                                  `json:"task"`
	Mode        string                                  `json:"mode"`
	TemplateID  string                                  `json:"template_id"`
	State       State                                   `json:"state"`
	History     []Transition                            `json:"history"`
	Candidates  []model.CandidateMapping                `json:"candidates"`
	MAsk        *model.MappingsToAsk                    `json:"mappings_to_ask,omitempty"`
	Verdicts    map[model.MappingID]model.OracleVerdict `json:"verdicts,omitempty"`
	Attempts    map[model.MappingID]int                 `json:"attempts,omitempty"`
	Usage       model.TokenUsage                        `json:"usage"`
	Refined     []model.RefinedMapping                  `json:"refined,omitempty"`
	CreatedAt   time.Time                               `json:"created_at"`
}

func NewSession(task, mode, templateID string) *Session {
	return &Session{
		RunID:      uuid.New().String(),
		Task:       task,
		Mode:       mode,
		TemplateID: templateID,
		State:      StateIdle,
		Verdicts:   make(map[model.MappingID]model.OracleVerdict),
		Attempts:   make(map[model.MappingID]int),
		CreatedAt:  time.Now().UTC(),
	}
}

// advance moves the session to the next state and records the transition.
func (s *Session) advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.State, to) {
		return &InvalidTransitionError{From: s.State, To: to}
	}
	s.History = append(s.History, Transition{From: s.State, To: to, At: time.Now().UTC()})
	s.State = to
	return nil
}

func (s *Session) update(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Current returns the state the session is in.
func (s *Session) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// LastCompleted is the state the session left most recently; Idle before the
// first transition.
func (s *Session) LastCompleted() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.History) == 0 {
		return StateIdle
	}
	return s.History[len(s.History)-1].From
}

// Status is a consistent snapshot for callers outside the run goroutine.
type Status struct {
	RunID       string       `json:"run_id"`
	ResumedFrom string       `json:"resumed_from,omitempty"`
	Task        string       `json:"task"`
	Mode        string       `json:"mode"`
	State       State        `json:"state"`
	History     []Transition `json:"history"`
	Candidates  int          `json:"candidates"`
	Asked       int          `json:"asked"`
	Resolved    int          `json:"resolved"`
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		RunID:       s.RunID,
		ResumedFrom: s.ResumedFrom,
		Task:        s.Task,
		Mode:        s.Mode,
		State:       s.State,
		History:     append([]Transition(nil), s.History...),
		Candidates:  len(s.Candidates),
		Asked:       s.MAsk.Len(),
		Resolved:    len(s.Verdicts),
	}
}

// Checkpoint writes the session as JSON to path, atomically.
func (s *Session) Checkpoint(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Encode returns the session as JSON for artifact storage.
func (s *Session) Encode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s, "", "  ")
}

// RestoreSession loads a checkpoint as a fresh run that resumes at
// Selecting: it gets a new run ID, an Idle state and an empty history.
// Candidates are kept. Verdicts are kept only when they were produced with
// templateID, since a different template asks a different question.
func RestoreSession(path, mode, templateID string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var prev Session
	if err := json.Unmarshal(data, &prev); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if len(prev.Candidates) == 0 {
		return nil, fmt.Errorf("checkpoint %s holds no candidate mappings", path)
	}

	s := NewSession(prev.Task, mode, templateID)
	s.ResumedFrom = prev.RunID
	s.Candidates = prev.Candidates
	if prev.TemplateID == templateID {
		for id, v := range prev.Verdicts {
			s.Verdicts[id] = v
		}
		for id, n := range prev.Attempts {
			s.Attempts[id] = n
		}
	}
	return s, nil
}
