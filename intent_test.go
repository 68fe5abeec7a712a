package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingIntentConsumeOnce(t *testing.T) {
	var p PendingIntent

	_, ok := p.Consume()
	assert.False(t, ok)

	p.Set(IntentAutoAnswer)
	require.True(t, p.Armed())

	kind, ok := p.Consume()
	require.True(t, ok)
	assert.Equal(t, IntentAutoAnswer, kind)

	_, ok = p.Consume()
	assert.False(t, ok, "second consume must fail")
}

func TestPendingIntentSetReplaces(t *testing.T) {
	var p PendingIntent

	p.Set(IntentAutoAnswer)
	p.Set(IntentAutoEnd)

	kind, ok := p.Consume()
	require.True(t, ok)
	assert.Equal(t, IntentAutoEnd, kind)
}

func TestPendingIntentClear(t *testing.T) {
	var p PendingIntent

	p.Set(IntentAutoEnd)
	p.Clear()

	assert.False(t, p.Armed())
	_, ok := p.Consume()
	assert.False(t, ok)
}
