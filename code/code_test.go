package code

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsVarArgIndicesToAbsent(t *testing.T) {
	obj := New("f", "mod.f", "mod.py")
	assert.Equal(t, -1, obj.VarArgsIndex)
	assert.Equal(t, -1, obj.VarKwargsIndex)
}

func TestLineFor_ScansToLastEntryAtOrBeforeIndex(t *testing.T) {
	obj := New("f", "mod.f", "mod.py")
	obj.Lines = []LineEntry{
		{InstructionIndex: 0, Line: 1},
		{InstructionIndex: 3, Line: 2},
		{InstructionIndex: 7, Line: 5},
	}
	assert.Equal(t, 1, obj.LineFor(0))
	assert.Equal(t, 1, obj.LineFor(2))
	assert.Equal(t, 2, obj.LineFor(3))
	assert.Equal(t, 2, obj.LineFor(6))
	assert.Equal(t, 5, obj.LineFor(7))
	assert.Equal(t, 5, obj.LineFor(100))
}

func TestSourceTextFor_OutOfRangeIsEmpty(t *testing.T) {
	obj := New("f", "mod.f", "mod.py")
	obj.SourceLines = []string{"x = 1", "y = 2"}
	assert.Equal(t, "x = 1", obj.SourceTextFor(1))
	assert.Equal(t, "y = 2", obj.SourceTextFor(2))
	assert.Equal(t, "", obj.SourceTextFor(0))
	assert.Equal(t, "", obj.SourceTextFor(3))
}

func TestHandlerFor_PicksInnermostOverlappingRange(t *testing.T) {
	obj := New("f", "mod.f", "mod.py")
	obj.ExcTable = []ExceptionTableEntry{
		{StartInstruction: 0, EndInstruction: 10, HandlerTarget: 20, StackDepth: 0},
		{StartInstruction: 2, EndInstruction: 5, HandlerTarget: 6, StackDepth: 1},
	}

	entry, ok := obj.HandlerFor(3)
	assert.True(t, ok)
	assert.Equal(t, 6, entry.HandlerTarget)

	entry, ok = obj.HandlerFor(8)
	assert.True(t, ok)
	assert.Equal(t, 20, entry.HandlerTarget)

	_, ok = obj.HandlerFor(15)
	assert.False(t, ok)
}
