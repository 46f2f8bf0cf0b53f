package toolfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_ZeroValueAllowsEverything(t *testing.T) {
	var f Filter
	assert.True(t, f.Allows("anything__here"))
}

func TestFilter_DisallowedWinsOverAllowed(t *testing.T) {
	f := New([]string{"fs__*"}, []string{"fs__dangerous"})
	assert.True(t, f.Allows("fs__read"))
	assert.False(t, f.Allows("fs__dangerous"))
}

func TestFilter_EmptyAllowedMeansEveryNameExceptDisallowed(t *testing.T) {
	f := New(nil, []string{"sub_claude_reviewer"})
	assert.True(t, f.Allows("fs__read"))
	assert.False(t, f.Allows("sub_claude_reviewer"))
}

func TestFilter_AllowedRestrictsToMatchingPatterns(t *testing.T) {
	f := New([]string{"fs__*", "sub_claude_*"}, nil)
	assert.True(t, f.Allows("fs__read"))
	assert.True(t, f.Allows("sub_claude_reviewer"))
	assert.False(t, f.Allows("net__http_get"))
}

func TestFilter_FilterNamesPreservesOrder(t *testing.T) {
	f := New([]string{"fs__*"}, nil)
	got := f.FilterNames([]string{"fs__read", "net__http_get", "fs__write"})
	assert.Equal(t, []string{"fs__read", "fs__write"}, got)
}
