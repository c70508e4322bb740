// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventLog_NewestFirst(t *testing.T) {
	l := NewEventLog()
	l.Append(Event{Type: "a"})
	l.Append(Event{Type: "b"})
	l.Append(Event{Type: "c"})

	got := l.Recent(2)
	assert.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Type)
	assert.Equal(t, "b", got[1].Type)

	all := l.Recent(0)
	assert.Len(t, all, 3)
}

func TestEventLog_RingWraps(t *testing.T) {
	l := NewEventLog()
	for i := 0; i < eventRingSize+10; i++ {
		l.Append(Event{Type: fmt.Sprintf("e%d", i)})
	}
	got := l.Recent(0)
	assert.Len(t, got, eventRingSize)
	assert.Equal(t, fmt.Sprintf("e%d", eventRingSize+9), got[0].Type)
	assert.Equal(t, "e10", got[len(got)-1].Type)
}

func TestEventLog_SubscribersNotified(t *testing.T) {
	l := NewEventLog()
	var seen []string
	l.Subscribe(func(e Event) { seen = append(seen, e.Type) })
	l.Append(Event{Type: "x"})
	l.Append(Event{Type: "y"})
	assert.Equal(t, []string{"x", "y"}, seen)
}

func TestEventLog_StampsIDAndTime(t *testing.T) {
	l := NewEventLog()
	l.Append(Event{Type: "x"})
	e := l.Recent(1)[0]
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())
}
