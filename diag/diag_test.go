package diag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_FiltersBelowThreshold(t *testing.T) {
	l := New(LevelWarn, 8)
	l.Infof("visible? %s", "no")
	l.Debugf("visible? %s", "no")
	l.Errorf("boom")
	l.Warnf("careful")

	records := l.Records()
	assert.Len(t, records, 2)
	assert.Equal(t, LevelError, records[0].Level)
	assert.Equal(t, "boom", records[0].Message)
	assert.Equal(t, LevelWarn, records[1].Level)
	assert.Equal(t, "careful", records[1].Message)
}

func TestLogger_RecordsOrderingBeforeWrap(t *testing.T) {
	l := New(LevelDebug, 8)
	l.Infof("one")
	l.Infof("two")
	l.Infof("three")

	records := l.Records()
	assert.Equal(t, []string{"one", "two", "three"}, messages(records))
}

func TestLogger_RingWrapsAndPreservesChronologicalOrder(t *testing.T) {
	l := New(LevelDebug, 3)
	for i := 0; i < 5; i++ {
		l.Infof("msg%d", i)
	}

	records := l.Records()
	assert.Equal(t, []string{"msg2", "msg3", "msg4"}, messages(records))
}

func TestLogger_SinkReceivesFormattedLine(t *testing.T) {
	l := New(LevelDebug, 8)
	var buf strings.Builder
	l.Sink = &buf

	l.Warnf("disk at %d%%", 90)

	out := buf.String()
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "disk at 90%")
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "???", Level(99).String())
}

func messages(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Message
	}
	return out
}
