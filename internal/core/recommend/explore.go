package recommend

import "github.com/ewilliams-labs/cadence/internal/core/domain"

// explore draws one candidate with probability proportional to its energy
// alignment. When every weight is zero the draw is uniform.
func (e *Engine) explore(candidates []domain.Track, target Target) domain.Track {
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, t := range candidates {
		weights[i] = EnergyAlignment(t.Features.Energy, target.Intensity)
		total += weights[i]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if total <= 0 {
		return candidates[e.rng.IntN(len(candidates))]
	}
	r := e.rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}
