// Package selector picks the candidate mappings the oracle should be asked
// about.
package selector

import (
	"fmt"
	"math"
	"sort"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core/model"
)

// Band is the open interval of engine confidence considered uncertain.
type Band struct {
	Low  float64
	High float64
}

func (b Band) Midpoint() float64 {
	return (b.Low + b.High) / 2
}

// Contains is strict on both ends.
func (b Band) Contains(confidence float64) bool {
	return confidence > b.Low && confidence < b.High
}

func (b Band) validate() error {
	if math.IsNaN(b.Low) || math.IsNaN(b.High) || b.Low >= b.High {
		return &config.ConfigurationError{
			Field:  "selector",
			Reason: fmt.Sprintf("low bound %v must be below high bound %v", b.Low, b.High),
		}
	}
	return nil
}

// Select returns M_ask: mappings strictly inside band, most uncertain first
// (closest to the midpoint), capped at maxQueries. Ties keep input order.
func Select(mappings []model.CandidateMapping, band Band, maxQueries int) (*model.MappingsToAsk, error) {
	if err := band.validate(); err != nil {
		return nil, err
	}
	if maxQueries < 1 {
		return nil, &config.ConfigurationError{
			Field:  "selector.max_queries",
			Reason: fmt.Sprintf("must be at least 1, got %d", maxQueries),
		}
	}
	if len(mappings) == 0 {
		return nil, &config.ConfigurationError{Field: "alignment", Reason: "no candidate mappings to select from"}
	}

	seen := make(map[model.MappingID]bool, len(mappings))
	inBand := make([]model.CandidateMapping, 0, len(mappings))
	for _, m := range mappings {
		id := m.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		if !band.Contains(m.Confidence) {
			continue
		}
		inBand = append(inBand, m)
	}

	mid := band.Midpoint()
	sort.SliceStable(inBand, func(i, j int) bool {
		return math.Abs(inBand[i].Confidence-mid) < math.Abs(inBand[j].Confidence-mid)
	})

	if len(inBand) > maxQueries {
		inBand = inBand[:maxQueries]
	}
	return model.NewMappingsToAsk(inBand), nil
}

// FromConfig reads the band and budget from the selector section.
func FromConfig(cfg config.SelectorConfig) (Band, int) {
	return Band{Low: cfg.Low, High: cfg.High}, cfg.MaxQueries
}
