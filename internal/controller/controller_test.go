package controller

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControllerEmitsIRQ0AndForcedIRQ1IRQ2(t *testing.T) {
	var buf bytes.Buffer
	c := New(Config{
		Quantum:  5 * time.Millisecond,
		IRQ1Prob: 1, // fastrand.Intn(1) is always 0: forces every tick
		IRQ2Prob: 1,
		Out:      &buf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	out := buf.String()
	assert.Contains(t, out, "IRQ0")
	assert.Contains(t, out, "IRQ1")
	assert.Contains(t, out, "IRQ2")
}

func TestControllerPausesOnSIGINTState(t *testing.T) {
	var buf bytes.Buffer
	c := New(Config{Quantum: 5 * time.Millisecond, Out: &buf})
	c.paused.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	lines := strings.Count(buf.String(), "IRQ0")
	assert.Equal(t, 0, lines)
}
