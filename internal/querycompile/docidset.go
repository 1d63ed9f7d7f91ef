package querycompile

import "github.com/RoaringBitmap/roaring"

// DocIdSet is a compressed set of internal document ids backed by a Roaring
// bitmap. Roaring's native domain is uint32, so ids are truncated on entry;
// this mirrors the same known simplification internal/hnsw's searchLayer
// visited set makes. Internal ids are dictionary DataLog byte offsets, so
// ids at or above 2^32 (a dictionary log past 4 GiB) alias lower ones.
type DocIdSet struct {
	bitmap *roaring.Bitmap
}

// NewDocIdSet returns an empty DocIdSet.
func NewDocIdSet() *DocIdSet {
	return &DocIdSet{bitmap: roaring.New()}
}

// DocIdSetOf builds a DocIdSet containing exactly ids.
func DocIdSetOf(ids ...int64) *DocIdSet {
	s := NewDocIdSet()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id into the set.
func (s *DocIdSet) Add(id int64) { s.bitmap.Add(uint32(id)) }

// Contains reports whether id is a member of the set.
func (s *DocIdSet) Contains(id int64) bool { return s.bitmap.Contains(uint32(id)) }

// Len returns the number of ids in the set.
func (s *DocIdSet) Len() int64 { return int64(s.bitmap.GetCardinality()) }

// Union returns a new set containing every id in s or other.
func (s *DocIdSet) Union(other *DocIdSet) *DocIdSet {
	return &DocIdSet{bitmap: roaring.Or(s.bitmap, other.bitmap)}
}

// Intersect returns a new set containing every id in both s and other.
func (s *DocIdSet) Intersect(other *DocIdSet) *DocIdSet {
	return &DocIdSet{bitmap: roaring.And(s.bitmap, other.bitmap)}
}

// Difference returns a new set containing every id in s but not in other.
func (s *DocIdSet) Difference(other *DocIdSet) *DocIdSet {
	return &DocIdSet{bitmap: roaring.AndNot(s.bitmap, other.bitmap)}
}

// ToSlice returns the set's ids in ascending order.
func (s *DocIdSet) ToSlice() []int64 {
	ids := make([]int64, 0, s.bitmap.GetCardinality())
	it := s.bitmap.Iterator()
	for it.HasNext() {
		ids = append(ids, int64(it.Next()))
	}
	return ids
}
