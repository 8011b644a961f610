package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "run-1", "a.json", []byte("{}")))
	require.NoError(t, s.Put(ctx, "run-1", "nested/b.txt", []byte("x")))

	data, err := s.Get(ctx, "run-1", "a.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = s.Get(ctx, "run-1", "missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))

	names, err := s.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "nested/b.txt"}, names)

	names, err = s.List(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.Error(t, s.Put(ctx, "", "a.json", nil))
	assert.Error(t, s.Put(ctx, "run-1", "../../escape.json", nil))
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.ArtifactsConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = NewStore(config.ArtifactsConfig{Backend: "s3"})
	assert.True(t, config.IsConfigurationError(err))
	assert.Nil(t, s)

	_, err = NewStore(config.ArtifactsConfig{Backend: "tape"})
	assert.True(t, config.IsConfigurationError(err))
}

func TestWriterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	w := NewWriter(s, "run-1", Names{Task: "anatomy", Template: "label_only"})

	a := model.CandidateMapping{Source: "a", Target: "x", Relation: model.RelationEquivalence, Confidence: 0.5}
	b := model.CandidateMapping{Source: "b", Target: "y", Relation: model.RelationEquivalence, Confidence: 0.45}
	mAsk := model.NewMappingsToAsk([]model.CandidateMapping{a, b})
	conf := 0.8
	verdicts := map[model.MappingID]model.OracleVerdict{
		b.ID(): {MappingID: b.ID(), Verdict: model.VerdictReject, Raw: "false"},
		a.ID(): {MappingID: a.ID(), Verdict: model.VerdictConfirm, Raw: "true", Confidence: &conf},
	}

	require.NoError(t, w.MappingsToAsk(ctx, mAsk))
	require.NoError(t, w.Verdicts(ctx, mAsk, verdicts))

	back, err := ReadVerdicts(ctx, s, "run-1", "anatomy-label_only-oracle_verdicts.json")
	require.NoError(t, err)
	assert.Equal(t, verdicts, back)

	refined := []model.RefinedMapping{{
		CandidateMapping: a,
		Decision:         model.DecisionAccepted,
		Provenance:       model.ProvenanceOracleConfirmed,
		FinalConfidence:  0.8,
	}}
	require.NoError(t, w.Refined(ctx, refined))

	text, err := s.Get(ctx, "run-1", "anatomy-refined_alignment.txt")
	require.NoError(t, err)
	assert.Equal(t, "a|x|=|0.8|accepted|oracle-confirmed\n", string(text))

	loaded, err := ReadRefined(ctx, s, "run-1", "anatomy-refined_alignment.json")
	require.NoError(t, err)
	assert.Equal(t, refined, loaded)

	names, err := s.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, names, 4)
}
