package llm

import (
	"fmt"
	"sync/atomic"
)

// Dimensions tracks the vector size of one embedding model. A known size is
// enforced from the start. An unknown size (zero) is taken from the first
// vector the model returns and enforced after that.
type Dimensions struct {
	n atomic.Int64
}

func NewDimensions(n int) *Dimensions {
	d := new(Dimensions)
	if n > 0 {
		d.n.Store(int64(n))
	}

	return d
}

// Get returns the size, or zero while it is still unknown.
func (d *Dimensions) Get() int {
	return int(d.n.Load())
}

func (d *Dimensions) Check(model string, v []float32) error {
	got := int64(len(v))
	if d.n.CompareAndSwap(0, got) {
		return nil
	}

	if want := d.n.Load(); want != got {
		return fmt.Errorf("model %s returned %d dimensions, expected %d", model, got, want)
	}

	return nil
}
