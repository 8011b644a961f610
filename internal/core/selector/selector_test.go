package selector

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

func mapping(src string, confidence float64) model.CandidateMapping {
	return model.CandidateMapping{Source: src, Target: src + "'", Relation: model.RelationEquivalence, Confidence: confidence}
}

func TestSelectMostUncertainFirst(t *testing.T) {
	mappings := []model.CandidateMapping{
		mapping("a", 0.9), mapping("b", 0.5), mapping("c", 0.45), mapping("d", 0.1),
	}

	mAsk, err := Select(mappings, Band{Low: 0.4, High: 0.6}, 2)
	require.NoError(t, err)

	items := mAsk.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 0.5, items[0].Confidence)
	assert.Equal(t, 0.45, items[1].Confidence)
}

func TestSelectReturnsAllWhenUnderBudget(t *testing.T) {
	mappings := []model.CandidateMapping{mapping("a", 0.55), mapping("b", 0.42), mapping("c", 0.95)}

	mAsk, err := Select(mappings, Band{Low: 0.4, High: 0.6}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, mAsk.Len())
}

func TestSelectBoundsAreStrict(t *testing.T) {
	mappings := []model.CandidateMapping{mapping("lo", 0.4), mapping("hi", 0.6), mapping("in", 0.41)}

	mAsk, err := Select(mappings, Band{Low: 0.4, High: 0.6}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, mAsk.Len())
	assert.Equal(t, "in", mAsk.Items()[0].Source)
}

func TestSelectDedupesByIdentity(t *testing.T) {
	mappings := []model.CandidateMapping{mapping("a", 0.5), mapping("a", 0.5), mapping("b", 0.52)}

	mAsk, err := Select(mappings, Band{Low: 0.4, High: 0.6}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, mAsk.Len())
}

func TestSelectTiesKeepInputOrder(t *testing.T) {
	mappings := []model.CandidateMapping{mapping("first", 0.45), mapping("second", 0.55)}

	mAsk, err := Select(mappings, Band{Low: 0.4, High: 0.6}, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", mAsk.Items()[0].Source)
}

func TestSelectConfigurationErrors(t *testing.T) {
	ok := []model.CandidateMapping{mapping("a", 0.5)}

	cases := []struct {
		name     string
		mappings []model.CandidateMapping
		band     Band
		budget   int
	}{
		{"inverted band", ok, Band{Low: 0.6, High: 0.4}, 1},
		{"empty band", ok, Band{Low: 0.5, High: 0.5}, 1},
		{"empty alignment", nil, Band{Low: 0.4, High: 0.6}, 1},
		{"zero budget", ok, Band{Low: 0.4, High: 0.6}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Select(tc.mappings, tc.band, tc.budget)
			require.Error(t, err)
			assert.True(t, config.IsConfigurationError(err))
		})
	}
}

func TestSelectBandAndBudgetProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		lo := rng.Float64() * 0.9
		hi := lo + 0.01 + rng.Float64()*(1-lo-0.01)
		budget := 1 + rng.Intn(10)

		var mappings []model.CandidateMapping
		for i := 0; i < 1+rng.Intn(30); i++ {
			mappings = append(mappings, mapping(fmt.Sprintf("e%d", i), rng.Float64()))
		}

		band := Band{Low: lo, High: hi}
		mAsk, err := Select(mappings, band, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, mAsk.Len(), budget)

		inBand := 0
		for _, m := range mappings {
			if band.Contains(m.Confidence) {
				inBand++
			} else {
				assert.False(t, mAsk.Contains(m.ID()), "mapping outside band selected")
			}
		}
		for _, m := range mAsk.Items() {
			assert.True(t, band.Contains(m.Confidence))
		}
		if inBand <= budget {
			assert.Equal(t, inBand, mAsk.Len())
		}
	}
}
