// Package chunktable implements the global chunk index of spec.md
// §4.C: built from each segment's `table`/`table2` pair, resolved into
// absolute (segment, offset, size, compressed) locations with O(1)
// lookup by chunk index.
package chunktable

import "github.com/laenix/goewf/internal/sections"

// Location identifies where one chunk's stored bytes live.
type Location struct {
	Segment    int
	Offset     uint64
	Size       uint32
	Compressed bool
}

// Table is the main chain's chunk index. The delta chain keeps its
// shadowed chunks in a map keyed by chunk index instead.
type Table struct {
	locations []Location
}

// New returns an empty Table.
func New() *Table { return &Table{} }

// Len returns the number of indexed chunks.
func (t *Table) Len() int { return len(t.locations) }

// Entry returns the location of chunk i.
func (t *Table) Entry(i int) (Location, bool) {
	if i < 0 || i >= len(t.locations) {
		return Location{}, false
	}
	return t.locations[i], true
}

// Append adds a location for the next chunk index (used by the
// writer, which appends entries as it writes).
func (t *Table) Append(loc Location) {
	t.locations = append(t.locations, loc)
}

// SegmentTable is one segment's decoded table/table2 pair plus the
// absolute file-offset context needed to resolve entries and to size
// the final chunk in the segment.
type SegmentTable struct {
	Segment          int
	Table            sections.Table
	Table2           *sections.Table // nil if this segment had no table2
	SectorsPayloadEnd uint64         // absolute offset where the sectors payload ends
}

// Mismatch records a table/table2 disagreement for a chunk range,
// which the caller should fold into the CRC-error sector-range table
// (spec.md §3 invariant 2, §8 "Table redundancy").
type Mismatch struct {
	Segment         int
	FirstChunkIndex int
	Count           int
}

// Build constructs the global chunk table from a sequence of
// per-segment table pairs, in segment order. `table` is always
// authoritative; a `table2` that disagrees produces a Mismatch entry
// but does not abort the build (spec.md §4.C).
func Build(segTables []SegmentTable) (*Table, []Mismatch, error) {
	out := New()
	var mismatches []Mismatch

	for _, st := range segTables {
		if st.Table2 != nil && !sections.Equal(st.Table, *st.Table2) {
			mismatches = append(mismatches, Mismatch{
				Segment:         st.Segment,
				FirstChunkIndex: out.Len(),
				Count:           len(st.Table.Entries),
			})
		}

		for i := range st.Table.Entries {
			offset, compressed := st.Table.EntryOffset(i)

			var size uint32
			if i+1 < len(st.Table.Entries) {
				next, _ := st.Table.EntryOffset(i + 1)
				size = uint32(next - offset)
			} else {
				size = uint32(st.SectorsPayloadEnd - offset)
			}

			out.Append(Location{
				Segment:    st.Segment,
				Offset:     offset,
				Size:       size,
				Compressed: compressed,
			})
		}
	}

	return out, mismatches, nil
}
