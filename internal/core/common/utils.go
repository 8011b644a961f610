// Package common holds helpers shared by the oracle-facing packages.
package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response carries no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the outermost {...} span of an LLM response, ignoring
// markdown fences and surrounding prose.
func ExtractJSON(response string) (string, bool) {
	start := strings.IndexByte(response, '{')
	end := strings.LastIndexByte(response, '}')
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return response[start : end+1], true
}

// ParseJSON extracts and unmarshals the JSON object embedded in response.
func ParseJSON[T any](response string) (T, error) {
	var zero T
	raw, ok := ExtractJSON(response)
	if !ok {
		return zero, ErrNoJSON
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return zero, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
