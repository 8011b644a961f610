package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type answer struct {
		Answer string `json:"answer"`
	}

	got, err := ParseJSON[answer]("Sure!\n```json\n{\"answer\": \"true\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "true", got.Answer)

	_, err = ParseJSON[answer]("plain text")
	assert.True(t, errors.Is(err, ErrNoJSON))

	_, err = ParseJSON[answer]("{not json}")
	assert.Error(t, err)
}
