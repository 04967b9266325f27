package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameWhitelist_IsAllowed(t *testing.T) {
	tests := []struct {
		name     string
		types    []string
		check    string
		expected bool
	}{
		{name: "empty whitelist", types: []string{}, check: FrameSend, expected: false},
		{name: "type exists", types: []string{FrameSend, FrameSync}, check: FrameSend, expected: true},
		{name: "type does not exist", types: []string{FrameSend}, check: "delete_everything", expected: false},
		{name: "empty type", types: []string{FrameSend}, check: "", expected: false},
		{name: "empty entries are dropped", types: []string{""}, check: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wl := NewFrameWhitelist(tt.types...)
			assert.Equal(t, tt.expected, wl.IsAllowed(tt.check))
		})
	}
}

func TestFrameWhitelist_Default(t *testing.T) {
	wl := DefaultFrameWhitelist()
	for _, ft := range []string{FrameSetView, FrameSend, FrameHeartbeat, FrameSync} {
		assert.True(t, wl.IsAllowed(ft), ft)
	}
	assert.False(t, wl.IsAllowed(FramePresence), "server frames are not accepted from clients")
}

func TestFrameWhitelist_AllowAndRevoke(t *testing.T) {
	wl := NewFrameWhitelist(FrameSend)

	assert.ErrorIs(t, wl.Allow(""), ErrInvalidFrameType)
	assert.ErrorIs(t, wl.Allow(FrameSend), ErrFrameAlreadyAllowed)
	assert.NoError(t, wl.Allow(FrameSync))
	assert.True(t, wl.IsAllowed(FrameSync))

	wl.Revoke(FrameSend)
	wl.Revoke("never-added")
	assert.False(t, wl.IsAllowed(FrameSend))
	assert.True(t, wl.IsAllowed(FrameSync))
}

func TestFrameWhitelist_Concurrent(t *testing.T) {
	wl := NewFrameWhitelist()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = wl.Allow(fmt.Sprintf("frame_%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = wl.IsAllowed(fmt.Sprintf("frame_%d", i))
		}(i)
	}
	wg.Wait()
	for i := 0; i < 20; i++ {
		assert.True(t, wl.IsAllowed(fmt.Sprintf("frame_%d", i)))
	}
}
