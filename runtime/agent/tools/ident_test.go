package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdent_ToolsetAndTool(t *testing.T) {
	id := Ident("web.search")
	assert.Equal(t, "web", id.Toolset())
	assert.Equal(t, "search", id.Tool())
	assert.Equal(t, "web.search", id.String())
}

func TestIdent_NoDotToolsetIsEmpty(t *testing.T) {
	id := Ident("search")
	assert.Equal(t, "", id.Toolset())
	assert.Equal(t, "search", id.Tool())
}

func TestLocalName_BuildsFileStemFunctionConvention(t *testing.T) {
	assert.Equal(t, "util__parse", LocalName("util", "parse"))
}
