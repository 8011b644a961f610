package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agenthands/alignoracle/internal/config"
)

func TestNewDefaultExposesRuntimeMetrics(t *testing.T) {
	s := NewDefault(config.Default(), nil)
	r := s.SetupRouter()

	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
