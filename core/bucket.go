package core

import (
	"fmt"
	"math"
)

// Bucket groups targets whose weight falls into one range. Bucketed
// allocators distribute a step's resources across buckets relative to
// their normalised weight share.
type Bucket struct {
	// ImportanceFactor scales how much a target in this bucket
	// matters relative to targets in other buckets.
	ImportanceFactor float64 `json:"importance_factor"`
	// LowerBound is inclusive, UpperBound exclusive.
	LowerBound int64 `json:"lower_bound"`
	UpperBound int64 `json:"upper_bound"`
	// AbsoluteSize is the number of targets inside the bounds.
	AbsoluteSize int64 `json:"absolute_size"`
	// Path is the statistic field the bounds apply to.
	Path string `json:"path"`

	// allocatedResources is the normalised share of the total
	// resources this bucket receives, nil until Normalise ran.
	allocatedResources *float64
}

// Weight is the product of importance factor and size. It is the
// bucket's claim when the total resources are split.
func (b *Bucket) Weight() float64 {
	return b.ImportanceFactor * float64(b.AbsoluteSize)
}

// Normalise fixes the bucket's share of the total resources given the
// summed weight of all buckets. Normalising twice is an error.
func (b *Bucket) Normalise(totalWeight float64) error {
	if b.allocatedResources != nil {
		return fmt.Errorf("cannot normalise an already normalised bucket")
	}
	if totalWeight == 0 {
		return fmt.Errorf("cannot normalise bucket against zero total weight")
	}
	share := b.Weight() / totalWeight
	b.allocatedResources = &share
	return nil
}

// Allocation translates a step size into this bucket's target count:
// the rounded share, but never less than minAllocation so small
// buckets cannot starve. Requires a normalised bucket.
func (b *Bucket) Allocation(stepSize, minAllocation int) (int, error) {
	if b.allocatedResources == nil {
		return 0, fmt.Errorf("cannot allocate resources from a non-normalised bucket")
	}
	allocated := int(math.Round(float64(stepSize) * *b.allocatedResources))
	if allocated < minAllocation {
		allocated = minAllocation
	}
	return allocated, nil
}

// Share returns the normalised resource share, or 0 when the bucket
// has not been normalised yet.
func (b *Bucket) Share() float64 {
	if b.allocatedResources == nil {
		return 0
	}
	return *b.allocatedResources
}
