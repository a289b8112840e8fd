// Package dataset reads satellite tiles, footprint masks and per-site labels.
package dataset

import (
	"sort"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/vision/preprocessing"
)

// Sample is one training example.
type Sample struct {
	Name    string
	Image   *preprocessing.Tile // [C, H, W]
	Mask    *preprocessing.Tile // [1, H, W], values 0 or 1
	Weather []float32
	Target  float32 // generation output
	Label   int32   // installation type
}

// Dataset interface defines the contract for datasets. seed drives any
// random augmentation so the same (index, seed) always gives the same sample.
type Dataset interface {
	Len() int
	Item(index int, seed int64) (*Sample, error)
}

// ConcatDataset chains datasets end to end
type ConcatDataset struct {
	datasets []Dataset
	ends     []int // cumulative lengths
}

// Concat creates a dataset holding every item of the given datasets in order
func Concat(datasets ...Dataset) *ConcatDataset {
	c := &ConcatDataset{datasets: datasets}
	total := 0
	for _, d := range datasets {
		total += d.Len()
		c.ends = append(c.ends, total)
	}
	return c
}

// Len returns the number of items in the dataset
func (c *ConcatDataset) Len() int {
	if len(c.ends) == 0 {
		return 0
	}
	return c.ends[len(c.ends)-1]
}

// Item returns the item at index from the dataset that holds it
func (c *ConcatDataset) Item(index int, seed int64) (*Sample, error) {
	if index < 0 || index >= c.Len() {
		return nil, errors.Data("index %d out of range [0, %d)", index, c.Len())
	}
	i := sort.SearchInts(c.ends, index+1)
	start := 0
	if i > 0 {
		start = c.ends[i-1]
	}
	return c.datasets[i].Item(index-start, seed)
}
