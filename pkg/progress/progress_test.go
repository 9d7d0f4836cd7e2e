package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnimatorNonTerminalSkipsTicks(t *testing.T) {
	var buf bytes.Buffer
	a := NewAnimator(&buf, "Running")

	a.Tick()
	a.Tick()
	a.Flush()
	assert.Empty(t, buf.String())

	a.Message("validation token: abc")
	assert.Equal(t, "validation token: abc\n", buf.String())
}

func TestAnimatorEnabledDrawsAndClears(t *testing.T) {
	var buf bytes.Buffer
	a := &Animator{out: &buf, label: "Running", enabled: true}

	a.Tick()
	assert.Contains(t, buf.String(), "| Running")
	a.Tick()
	assert.Contains(t, buf.String(), "/ Running")

	a.Flush()
	assert.Contains(t, buf.String(), "\r\033[K")
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Tick()
	r.Tick()
	r.Message("hello")
	r.Flush()

	assert.Equal(t, 2, r.Ticks())
	assert.Equal(t, 1, r.Flushes())
	assert.Equal(t, []string{"hello"}, r.Messages())
}

func TestNop(t *testing.T) {
	var p Progress = Nop{}
	p.Tick()
	p.Message("ignored")
	p.Flush()
}
