package core

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/alignoracle/internal/core/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateInitialAlignment, true},
		{StateIdle, StateSelecting, true},
		{StateIdle, StateConsulting, false},
		{StateInitialAlignment, StateDone, true},
		{StateSelecting, StateReconciling, false},
		{StateRefined, StateReAligning, true},
		{StateRefined, StateDone, true},
		{StateReAligning, StateDone, true},
		{StateConsulting, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateIdle, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionAdvance(t *testing.T) {
	s := NewSession("anatomy", "full_loop", "label_only")
	assert.Equal(t, StateIdle, s.Current())
	assert.Equal(t, StateIdle, s.LastCompleted())

	require.NoError(t, s.advance(StateInitialAlignment))
	require.NoError(t, s.advance(StateSelecting))
	assert.Equal(t, StateInitialAlignment, s.LastCompleted())

	err := s.advance(StateDone)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateSelecting, invalid.From)
	assert.Equal(t, StateSelecting, s.Current())

	st := s.Status()
	assert.Len(t, st.History, 2)
	assert.Equal(t, s.RunID, st.RunID)
}

func TestCheckpointRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt", "session.json")

	s := NewSession("anatomy", "full_loop", "label_only")
	s.Candidates = []model.CandidateMapping{
		{Source: "MA_1", Target: "NCI_1", Relation: model.RelationEquivalence, Confidence: 0.5},
	}
	s.MAsk = model.NewMappingsToAsk(s.Candidates)
	id := s.Candidates[0].ID()
	s.Verdicts[id] = model.OracleVerdict{MappingID: id, Verdict: model.VerdictReject, Raw: "false"}
	s.Attempts[id] = 2
	require.NoError(t, s.advance(StateInitialAlignment))
	require.NoError(t, s.Checkpoint(path))

	restored, err := RestoreSession(path, "consultation_only", "label_only")
	require.NoError(t, err)
	assert.Equal(t, s.RunID, restored.ResumedFrom)
	assert.NotEqual(t, s.RunID, restored.RunID)
	assert.Equal(t, StateIdle, restored.Current())
	assert.Empty(t, restored.History)
	assert.Equal(t, s.Candidates, restored.Candidates)
	assert.Equal(t, model.VerdictReject, restored.Verdicts[id].Verdict)
	assert.Equal(t, 2, restored.Attempts[id])
	assert.Nil(t, restored.MAsk)

	other, err := RestoreSession(path, "consultation_only", "two_levels_of_parents")
	require.NoError(t, err)
	assert.Empty(t, other.Verdicts, "verdicts from another template are not reused")
	assert.Len(t, other.Candidates, 1)
}

func TestRestoreSessionErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := RestoreSession(filepath.Join(dir, "missing.json"), "consultation_only", "label_only")
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = RestoreSession(bad, "consultation_only", "label_only")
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, NewSession("anatomy", "full_loop", "label_only").Checkpoint(empty))
	_, err = RestoreSession(empty, "consultation_only", "label_only")
	assert.ErrorContains(t, err, "no candidate mappings")
}

func TestConcurrentCheckpointsShareAPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anatomy-session.json")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession("anatomy", "full_loop", "label_only")
			s.Candidates = []model.CandidateMapping{{Source: "MA_1", Target: "NCI_1", Relation: model.RelationEquivalence, Confidence: 0.5}}
			errs[i] = s.Checkpoint(path)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, "anatomy-session.json", entries[0].Name())

	restored, err := RestoreSession(path, "consultation_only", "label_only")
	require.NoError(t, err)
	assert.Len(t, restored.Candidates, 1)
}
