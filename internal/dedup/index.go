package dedup

import "fmt"

// FlatIndex is an exhaustive inner-product index over one contiguous arena.
// It only grows; callers rebuild it to drop entries.
type FlatIndex struct {
	dim  int
	data []float32
	ids  []string
}

// NewFlatIndex returns an empty index for vectors of width dim.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Add appends vec under id.
func (x *FlatIndex) Add(id string, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("index add %s: dimension %d, want %d", id, len(vec), x.dim)
	}
	x.data = append(x.data, vec...)
	x.ids = append(x.ids, id)
	return nil
}

// Search returns the entry with the largest inner product against vec.
func (x *FlatIndex) Search(vec []float32) (id string, score float64, ok bool) {
	if len(vec) != x.dim || len(x.ids) == 0 {
		return "", 0, false
	}
	best := -1
	var bestScore float64
	for i := range x.ids {
		row := x.data[i*x.dim : (i+1)*x.dim]
		var dot float64
		for j, v := range row {
			dot += float64(v) * float64(vec[j])
		}
		if best < 0 || dot > bestScore {
			best, bestScore = i, dot
		}
	}
	return x.ids[best], bestScore, true
}

// Len reports how many vectors are indexed.
func (x *FlatIndex) Len() int { return len(x.ids) }

// Reset empties the arena, keeping its capacity.
func (x *FlatIndex) Reset() {
	x.data = x.data[:0]
	x.ids = x.ids[:0]
}
