package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/heap"
)

func TestParseLiteral_RecognizesScalarShapes(t *testing.T) {
	h := heap.NewHeap()

	assert.True(t, parseLiteral(h, "None").IsNone())
	assert.True(t, parseLiteral(h, "true").Bool())
	assert.False(t, parseLiteral(h, "False").Bool())
	assert.Equal(t, int64(42), parseLiteral(h, "42").Int())
	assert.Equal(t, 3.5, parseLiteral(h, "3.5").Float())

	s, ok := heap.AsStr(parseLiteral(h, "hello"))
	assert.True(t, ok)
	assert.Equal(t, "hello", s.Data)
}

func TestParseInputBindings_SplitsNameValuePairs(t *testing.T) {
	h := heap.NewHeap()

	bindings, err := parseInputBindings(h, []string{"x=1", "label=ok"})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), bindings["x"].Int())
	s, ok := heap.AsStr(bindings["label"])
	assert.True(t, ok)
	assert.Equal(t, "ok", s.Data)
}

func TestParseInputBindings_RejectsMissingEquals(t *testing.T) {
	h := heap.NewHeap()

	_, err := parseInputBindings(h, []string{"no-equals-sign"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expected name=value")
}
