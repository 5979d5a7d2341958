package pkg_test

import (
	"testing"

	"github.com/shelfdb/shelfdb/pkg"
	"gotest.tools/assert"
)

func TestMap(t *testing.T) {
	m := pkg.Map[string, int]{}
	m.Set("a", 1)
	m.Set("b", 2)

	assert.Assert(t, m.Has("a"))
	assert.Equal(t, m.Get("b"), 2)

	m.Delete("a")
	assert.Assert(t, !m.Has("a"))
	assert.Equal(t, m.Get("a"), 0)

	assert.Equal(t, len(m.Keys()), 1)
	m.Clear()
	assert.Equal(t, len(m), 0)
}

func TestInsertSortMapKeepsOrder(t *testing.T) {
	m := pkg.NewInsertSortMap[string, int]()
	m.Push("c", 3)
	m.Push("a", 1)
	m.Push("b", 2)

	assert.DeepEqual(t, m.Sorted, []string{"c", "a", "b"})

	// re-push keeps the original position, updates the value
	m.Push("a", 10)
	assert.DeepEqual(t, m.Sorted, []string{"c", "a", "b"})
	assert.Equal(t, m.Get("a"), 10)

	m.Delete("c")
	assert.DeepEqual(t, m.Sorted, []string{"a", "b"})
	assert.Equal(t, m.Len(), 2)

	m.Clear()
	assert.Equal(t, m.Len(), 0)
}

func TestNumToInt(t *testing.T) {
	assert.Equal(t, pkg.NumToInt(5), 5)
	assert.Equal(t, pkg.NumToInt(int64(6)), 6)
	assert.Equal(t, pkg.NumToInt(float64(7)), 7)
	assert.Equal(t, pkg.NumToInt("nope"), 0)
	assert.Equal(t, pkg.NumToInt(nil), 0)
}

func TestFilter(t *testing.T) {
	even := pkg.Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	assert.DeepEqual(t, even, []int{2, 4})
}
