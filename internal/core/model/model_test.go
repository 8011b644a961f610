package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingIDSplit(t *testing.T) {
	id := NewMappingID("http://mouse.owl#MA_1", "http://human.owl#NCI_1")
	assert.Equal(t, MappingID("http://mouse.owl#MA_1|http://human.owl#NCI_1"), id)

	src, tgt, err := id.Split()
	require.NoError(t, err)
	assert.Equal(t, "http://mouse.owl#MA_1", src)
	assert.Equal(t, "http://human.owl#NCI_1", tgt)

	_, _, err = MappingID("no-separator").Split()
	assert.Error(t, err)
}

func TestMappingsToAskDedupes(t *testing.T) {
	m := NewMappingsToAsk([]CandidateMapping{
		{Source: "a", Target: "x", Confidence: 0.5},
		{Source: "b", Target: "y", Confidence: 0.45},
		{Source: "a", Target: "x", Confidence: 0.9},
	})

	require.Equal(t, 2, m.Len())
	assert.Equal(t, 0.5, m.Items()[0].Confidence, "first occurrence wins")
	assert.Equal(t, 1, m.Position(NewMappingID("b", "y")))
	assert.Equal(t, -1, m.Position(NewMappingID("c", "z")))
	assert.True(t, m.Contains(NewMappingID("a", "x")))
}

func TestMappingsToAskItemsIsACopy(t *testing.T) {
	m := NewMappingsToAsk([]CandidateMapping{{Source: "a", Target: "x", Confidence: 0.5}})
	items := m.Items()
	items[0].Confidence = 0.99
	assert.Equal(t, 0.5, m.Items()[0].Confidence)
}

func TestMappingsToAskJSON(t *testing.T) {
	m := NewMappingsToAsk([]CandidateMapping{
		{Source: "a", Target: "x", Relation: RelationEquivalence, Confidence: 0.5},
	})
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back MappingsToAsk
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.Items(), back.Items())
	assert.True(t, back.Contains(NewMappingID("a", "x")))
}

func TestVerdictText(t *testing.T) {
	data, err := json.Marshal(OracleVerdict{MappingID: "a|x", Verdict: VerdictReject})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"verdict":"reject"`)

	var v Verdict
	assert.Error(t, v.UnmarshalText([]byte("maybe")))
	assert.False(t, VerdictUncertain.Decisive())
	assert.True(t, VerdictConfirm.Decisive())
}

func TestParseRelation(t *testing.T) {
	r, err := ParseRelation("<")
	require.NoError(t, err)
	assert.Equal(t, "a subclass of", r.Phrase())

	_, err = ParseRelation("~")
	assert.Error(t, err)
	assert.Equal(t, EntityUnknown, ParseEntityType("THING"))
}
