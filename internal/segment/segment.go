package segment

import (
	"fmt"
	"slices"

	"chunkwise/internal/services"
)

// Range is a half-open frame range [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of frames in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Bounds limits chunk lengths. Zero disables a bound.
type Bounds struct {
	MinLength int
	MaxLength int
}

// Build turns proposed boundary frames into ranges covering [0, total).
//
// Boundaries are sorted, deduplicated, and clipped to the open interval
// (0, total). Walking left to right, a boundary is kept only when it lies at
// least MinLength frames after the previously kept boundary and at least
// MinLength frames before total. Ranges longer than MaxLength are then split
// into the fewest equal parts that fit, with part lengths differing by at most
// one frame. The result is identical for identical inputs.
func Build(total int, boundaries []int, bounds Bounds) ([]Range, error) {
	if total <= 0 {
		return nil, services.Wrap(services.ErrValidation, "segment", "build", fmt.Sprintf("total frame count must be positive (got %d)", total), nil)
	}
	if bounds.MinLength < 0 || bounds.MaxLength < 0 {
		return nil, services.Wrap(services.ErrValidation, "segment", "build", "chunk length bounds must be >= 0", nil)
	}

	candidates := make([]int, 0, len(boundaries))
	for _, b := range boundaries {
		if b > 0 && b < total {
			candidates = append(candidates, b)
		}
	}
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)

	kept := make([]int, 0, len(candidates)+2)
	kept = append(kept, 0)
	for _, b := range candidates {
		prev := kept[len(kept)-1]
		if b-prev < bounds.MinLength || total-b < bounds.MinLength {
			continue
		}
		kept = append(kept, b)
	}
	kept = append(kept, total)

	ranges := make([]Range, 0, len(kept)-1)
	for i := 0; i+1 < len(kept); i++ {
		ranges = appendSplit(ranges, Range{Start: kept[i], End: kept[i+1]}, bounds.MaxLength)
	}
	return ranges, nil
}

func appendSplit(dst []Range, r Range, maxLength int) []Range {
	length := r.Len()
	if maxLength <= 0 || length <= maxLength {
		return append(dst, r)
	}
	parts := (length + maxLength - 1) / maxLength
	base := length / parts
	extra := length % parts
	start := r.Start
	for i := range parts {
		size := base
		if i < extra {
			size++
		}
		dst = append(dst, Range{Start: start, End: start + size})
		start += size
	}
	return dst
}

// FixedBoundaries returns a boundary every interval frames inside (0, total).
func FixedBoundaries(total, interval int) []int {
	if interval <= 0 || total <= interval {
		return nil
	}
	out := make([]int, 0, total/interval)
	for b := interval; b < total; b += interval {
		out = append(out, b)
	}
	return out
}

// Boundaries returns the interior start frames of ranges, the inverse of Build
// for an already valid segmentation.
func Boundaries(ranges []Range) []int {
	if len(ranges) < 2 {
		return nil
	}
	out := make([]int, 0, len(ranges)-1)
	for _, r := range ranges[1:] {
		out = append(out, r.Start)
	}
	return out
}

// Validate checks that ranges are non-empty, strictly increasing, and cover
// [0, total) with no gap or overlap.
func Validate(ranges []Range, total int) error {
	if len(ranges) == 0 {
		return fmt.Errorf("%w: range list is empty", services.ErrValidation)
	}
	if ranges[0].Start != 0 {
		return fmt.Errorf("%w: first range starts at %d, want 0", services.ErrValidation, ranges[0].Start)
	}
	for i, r := range ranges {
		if r.Len() <= 0 {
			return fmt.Errorf("%w: range %d %s is empty", services.ErrValidation, i, r)
		}
		if i == 0 {
			continue
		}
		prev := ranges[i-1]
		switch {
		case r.Start < prev.End:
			return fmt.Errorf("%w: ranges %d %s and %d %s overlap", services.ErrValidation, i-1, prev, i, r)
		case r.Start > prev.End:
			return fmt.Errorf("%w: gap between ranges %d %s and %d %s", services.ErrValidation, i-1, prev, i, r)
		}
	}
	if last := ranges[len(ranges)-1]; last.End != total {
		return fmt.Errorf("%w: last range ends at %d, want %d", services.ErrValidation, last.End, total)
	}
	return nil
}
