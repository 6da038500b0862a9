package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules defines the spire global table in L:
//
//	spire.room       id of the room the VM belongs to
//	spire.log(msg)   writes msg to the server log at info level
//
// Precondition: L must be from NewSandboxedState.
func (m *Manager) RegisterModules(L *lua.LState, roomID uint64) {
	spire := L.NewTable()
	spire.RawSetString("room", lua.LNumber(roomID))
	spire.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		m.logger.Info("script log",
			zap.Uint64("room", roomID),
			zap.String("msg", L.CheckString(1)),
		)
		return 0
	}))
	L.SetGlobal("spire", spire)
}
