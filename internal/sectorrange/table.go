// Package sectorrange implements the ordered sector-range tables used
// for acquiry errors, CRC errors and optical sessions (spec.md §3
// "Sector-range tables", §4.J).
package sectorrange

import "sort"

// Range is a half-open run of sectors [FirstSector, FirstSector+Count).
type Range struct {
	FirstSector uint64
	Count       uint64
}

// End returns the exclusive end sector of the range.
func (r Range) End() uint64 { return r.FirstSector + r.Count }

func (r Range) overlapsOrAbuts(o Range) bool {
	return r.FirstSector <= o.End() && o.FirstSector <= r.End()
}

// Table holds a sorted list of ranges, optionally coalescing adjacent
// or overlapping ranges on insert. Sessions must be built with
// coalesce=false so that session boundaries stay distinct
// (spec.md §4.J "Sessions: DO NOT coalesce").
type Table struct {
	ranges   []Range
	coalesce bool
}

// New returns an empty Table. When coalesce is true, Add merges
// overlapping or abutting ranges (used for acquiry/CRC errors).
func New(coalesce bool) *Table {
	return &Table{coalesce: coalesce}
}

// Amount returns the number of stored ranges.
func (t *Table) Amount() int { return len(t.ranges) }

// Get returns the range at index i.
func (t *Table) Get(i int) (Range, bool) {
	if i < 0 || i >= len(t.ranges) {
		return Range{}, false
	}
	return t.ranges[i], true
}

// All returns a copy of the stored ranges in sorted order.
func (t *Table) All() []Range {
	out := make([]Range, len(t.ranges))
	copy(out, t.ranges)
	return out
}

// Add inserts a new range, keeping the table sorted by FirstSector.
// When the table coalesces, an overlapping or abutting range merges
// into the matching entries instead of being appended.
func (t *Table) Add(firstSector, count uint64) {
	r := Range{FirstSector: firstSector, Count: count}

	t.ranges = append(t.ranges, r)
	sort.Slice(t.ranges, func(i, j int) bool {
		return t.ranges[i].FirstSector < t.ranges[j].FirstSector
	})

	if !t.coalesce {
		return
	}

	merged := t.ranges[:0:0]
	for _, cur := range t.ranges {
		if len(merged) > 0 && merged[len(merged)-1].overlapsOrAbuts(cur) {
			last := &merged[len(merged)-1]
			end := last.End()
			if cur.End() > end {
				end = cur.End()
			}
			last.Count = end - last.FirstSector
			continue
		}
		merged = append(merged, cur)
	}
	t.ranges = merged
}
