package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type listResult struct {
	items     []string
	total     int
	truncated bool
}

func (r listResult) Bounds() Bounds {
	b := Bounds{Returned: len(r.items), Truncated: r.truncated}
	if r.truncated {
		total := r.total
		b.Total = &total
		b.RefinementHint = "narrow the query"
	}
	return b
}

func TestBoundedResult_SatisfiedByATypedResult(t *testing.T) {
	var res any = listResult{items: []string{"a", "b"}, total: 50, truncated: true}

	br, ok := res.(BoundedResult)
	assert.True(t, ok)

	b := br.Bounds()
	assert.Equal(t, 2, b.Returned)
	assert.True(t, b.Truncated)
	assert.NotNil(t, b.Total)
	assert.Equal(t, 50, *b.Total)
	assert.Equal(t, "narrow the query", b.RefinementHint)
}

func TestBoundedResult_UntruncatedResultHasNoTotal(t *testing.T) {
	res := listResult{items: []string{"a"}, truncated: false}
	b := res.Bounds()
	assert.False(t, b.Truncated)
	assert.Nil(t, b.Total)
}
