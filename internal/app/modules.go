package app

import (
	"github.com/nfrund/peerchat/internal/module"
	"github.com/nfrund/peerchat/internal/modules/announcer"
	"github.com/nfrund/peerchat/internal/modules/chat"
)

// NewModules returns the modules to boot, in boot order.
func NewModules(deps Dependencies) []module.Module {
	mods := []module.Module{
		chat.New(chat.Dependencies{
			Router:    deps.Router,
			Messages:  deps.Messages,
			Presence:  deps.Presence,
			Directory: deps.Directory,
			Socket:    deps.Socket,
		}),
	}
	if deps.LiveQuery != nil {
		mods = append(mods, announcer.New(announcer.Dependencies{
			LiveQueryService: deps.LiveQuery,
			Store:            deps.Store,
			Announcer:        deps.Messages,
		}))
	}
	return mods
}
