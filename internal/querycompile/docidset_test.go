package querycompile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocIdSetAddAndContains(t *testing.T) {
	s := NewDocIdSet()
	s.Add(3)
	s.Add(7)

	assert.True(t, s.Contains(3))
	assert.True(t, s.Contains(7))
	assert.False(t, s.Contains(4))
	assert.EqualValues(t, 2, s.Len())
}

func TestDocIdSetUnion(t *testing.T) {
	a := DocIdSetOf(1, 2)
	b := DocIdSetOf(2, 3)

	u := a.Union(b)
	assert.ElementsMatch(t, []int64{1, 2, 3}, u.ToSlice())
}

func TestDocIdSetIntersect(t *testing.T) {
	a := DocIdSetOf(1, 2, 3)
	b := DocIdSetOf(2, 3, 4)

	i := a.Intersect(b)
	assert.ElementsMatch(t, []int64{2, 3}, i.ToSlice())
}

func TestDocIdSetDifference(t *testing.T) {
	a := DocIdSetOf(1, 2, 3)
	b := DocIdSetOf(2)

	d := a.Difference(b)
	assert.ElementsMatch(t, []int64{1, 3}, d.ToSlice())
}

func TestDocIdSetToSliceEmpty(t *testing.T) {
	s := NewDocIdSet()
	assert.Empty(t, s.ToSlice())
}
