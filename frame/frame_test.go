package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wudi/serpent/code"
	"github.com/wudi/serpent/values"
)

func TestNewFrame_SizesLocalsCellsAndFree(t *testing.T) {
	obj := code.New("f", "mod.f", "mod.py")
	obj.Locals = []string{"a", "b"}
	obj.Cells = []string{"c"}
	obj.Free = []string{"d", "e"}

	f := NewFrame(obj, nil)
	assert.Len(t, f.Locals, 2)
	assert.Len(t, f.Cells, 1)
	assert.Len(t, f.Free, 2)
}

func TestPushPopPeek(t *testing.T) {
	f := NewFrame(code.New("f", "f", ""), nil)
	f.Push(values.Int(1))
	f.Push(values.Int(2))

	top, ok := f.Peek(0)
	assert.True(t, ok)
	assert.Equal(t, int64(2), top.Int())

	v, err := f.Pop()
	assert.NoError(t, err)
	assert.Equal(t, int64(2), v.Int())

	v, err = f.Pop()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), v.Int())

	_, err = f.Pop()
	assert.Error(t, err)
}

func TestTruncateStack(t *testing.T) {
	f := NewFrame(code.New("f", "f", ""), nil)
	f.Push(values.Int(1))
	f.Push(values.Int(2))
	f.Push(values.Int(3))

	f.TruncateStack(1)
	assert.Len(t, f.Stack, 1)
	assert.Equal(t, int64(1), f.Stack[0].Int())

	f.TruncateStack(5) // no-op when depth exceeds current length
	assert.Len(t, f.Stack, 1)
}

func TestExcBlockPushPop(t *testing.T) {
	f := NewFrame(code.New("f", "f", ""), nil)
	f.PushExcBlock(ExceptionBlock{HandlerTarget: 10, StackDepth: 0, Kind: code.HandlerFinally})

	b, ok := f.PopExcBlock()
	assert.True(t, ok)
	assert.Equal(t, 10, b.HandlerTarget)

	_, ok = f.PopExcBlock()
	assert.False(t, ok)
}

func TestFrameStack_PushPopCurrentDepth(t *testing.T) {
	s := NewFrameStack()
	assert.Equal(t, 0, s.Depth())
	assert.Nil(t, s.Current())

	f1 := NewFrame(code.New("a", "a", ""), nil)
	f2 := NewFrame(code.New("b", "b", ""), nil)
	s.Push(f1)
	s.Push(f2)

	assert.Equal(t, 2, s.Depth())
	assert.Same(t, f2, s.Current())

	frames := s.Frames()
	assert.Same(t, f1, frames[0])
	assert.Same(t, f2, frames[1])

	popped := s.Pop()
	assert.Same(t, f2, popped)
	assert.Equal(t, 1, s.Depth())
}
