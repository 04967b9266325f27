package announcer

import (
	"context"
	"errors"
	"testing"

	"github.com/nfrund/peerchat/internal/module"
	"github.com/stretchr/testify/assert"
)

type fakeFeed struct {
	startErr error
	started  bool
	stopped  bool
}

func (f *fakeFeed) Start(context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakeFeed) Stop() error {
	f.stopped = true
	return nil
}

func TestAnnouncerModule_Lifecycle(t *testing.T) {
	feed := &fakeFeed{}
	m := &AnnouncerModule{feed: feed}
	var _ module.Module = m

	assert.Equal(t, "announcer", m.Name())
	assert.NoError(t, m.Boot(context.Background(), module.Routes{}))
	assert.True(t, feed.started)
	assert.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, feed.stopped)
}

func TestAnnouncerModule_BootFailure(t *testing.T) {
	boom := errors.New("live query refused")
	m := &AnnouncerModule{feed: &fakeFeed{startErr: boom}}
	assert.ErrorIs(t, m.Boot(context.Background(), module.Routes{}), boom)
}
