package dataloader

import (
	"fmt"
	"math/rand"
)

// Sampler produces the dataset indices visited in one epoch
type Sampler interface {
	Len() int
	Indices(epoch int) []int
}

// SequentialSampler visits 0..n-1 in order
type SequentialSampler struct {
	n int
}

func NewSequentialSampler(n int) *SequentialSampler {
	return &SequentialSampler{n: n}
}

func (s *SequentialSampler) Len() int { return s.n }

func (s *SequentialSampler) Indices(epoch int) []int {
	indices := make([]int, s.n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// RandomSampler draws numSamples indices uniformly with replacement. The
// draw depends only on the seed and the epoch.
type RandomSampler struct {
	n          int
	numSamples int
	seed       int64
}

// NewRandomSampler creates a sampler over n items. numSamples <= 0 draws n.
func NewRandomSampler(n, numSamples int, seed int64) (*RandomSampler, error) {
	if n <= 0 {
		return nil, fmt.Errorf("random sampler needs a non-empty dataset, got %d items", n)
	}
	if numSamples <= 0 {
		numSamples = n
	}
	return &RandomSampler{n: n, numSamples: numSamples, seed: seed}, nil
}

// SampleCount returns int(fraction * n), the subsample size for a fraction
// of the dataset, and at least 1.
func SampleCount(n int, fraction float64) int {
	count := int(fraction * float64(n))
	if count < 1 {
		count = 1
	}
	return count
}

func (s *RandomSampler) Len() int { return s.numSamples }

func (s *RandomSampler) Indices(epoch int) []int {
	rng := rand.New(rand.NewSource(mixSeed(s.seed, int64(epoch))))
	indices := make([]int, s.numSamples)
	for i := range indices {
		indices[i] = rng.Intn(s.n)
	}
	return indices
}

// mixSeed folds values into one seed with the splitmix64 finalizer so
// neighbouring inputs give unrelated streams.
func mixSeed(values ...int64) int64 {
	var h uint64 = 0x9e3779b97f4a7c15
	for _, v := range values {
		h ^= uint64(v)
		h += 0x9e3779b97f4a7c15
		h = (h ^ (h >> 30)) * 0xbf58476d1ce4e5b9
		h = (h ^ (h >> 27)) * 0x94d049bb133111eb
		h ^= h >> 31
	}
	return int64(h)
}
