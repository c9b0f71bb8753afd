package booster

import (
	"math/rand/v2"
)

// RNG is the randomness the simulator draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type RNG interface {
	Int64N(n int64) int64
}

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type globalRNG struct{}

func (globalRNG) Int64N(n int64) int64 { return rand.Int64N(n) }

// WeightedCard is one card on a sheet with its draw weight.
type WeightedCard struct {
	UUID   string
	Weight int64
}

func totalWeight(weights []int64) int64 {
	var total int64
	for _, w := range weights {
		total += w
	}
	return total
}

// roulette draws an index with probability weights[i]/total. total must be
// positive. If negative weights keep the running value from dropping below
// zero, the last index is returned.
func roulette(weights []int64, total int64, rng RNG) int {
	roll := rng.Int64N(total)
	for i, w := range weights {
		roll -= w
		if roll < 0 {
			return i
		}
	}
	return len(weights) - 1
}

// PickTemplate selects one template with probability proportional to its
// weight. When the weights sum to zero or less every template is equally
// likely. templates must not be empty.
func PickTemplate(templates []Template, rng RNG) Template {
	weights := make([]int64, len(templates))
	for i, t := range templates {
		weights[i] = t.Weight
	}
	total := totalWeight(weights)
	if total <= 0 {
		return templates[rng.Int64N(int64(len(templates)))]
	}
	return templates[roulette(weights, total, rng)]
}

// WithReplacement draws count cards independently. A sheet whose weights sum
// to zero or less yields nothing.
func WithReplacement(cards []WeightedCard, count int, rng RNG) []string {
	if count <= 0 || len(cards) == 0 {
		return nil
	}
	weights := make([]int64, len(cards))
	for i, c := range cards {
		weights[i] = c.Weight
	}
	total := totalWeight(weights)
	if total <= 0 {
		return nil
	}

	out := make([]string, 0, count)
	for range count {
		out = append(out, cards[roulette(weights, total, rng)].UUID)
	}
	return out
}

// WithoutReplacement draws up to count distinct cards, removing each pick
// from the pool. count is clamped to the pool size, and drawing stops early
// once the remaining weights sum to zero or less.
func WithoutReplacement(cards []WeightedCard, count int, rng RNG) []string {
	if count > len(cards) {
		count = len(cards)
	}
	if count <= 0 {
		return nil
	}

	uuids := make([]string, len(cards))
	weights := make([]int64, len(cards))
	for i, c := range cards {
		uuids[i] = c.UUID
		weights[i] = c.Weight
	}

	out := make([]string, 0, count)
	for range count {
		total := totalWeight(weights)
		if total <= 0 {
			break
		}
		i := roulette(weights, total, rng)
		out = append(out, uuids[i])
		uuids = append(uuids[:i], uuids[i+1:]...)
		weights = append(weights[:i], weights[i+1:]...)
	}
	return out
}
