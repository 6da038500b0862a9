package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ValidateHook is the Lua global consulted for every game command.
const ValidateHook = "validate_command"

// Command is the script-visible view of a game command.
type Command struct {
	Room        uint64
	Kind        string
	Payload     []byte
	AccountID   uint64
	CharacterID uint64
	Privilege   string
}

// Verdict is the outcome of validating a command.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Allow is the verdict for commands no script objects to.
var Allow = Verdict{Allowed: true}

type vm struct {
	mu    sync.Mutex
	L     *lua.LState
	limit int
}

// Manager owns one sandboxed LState per room and dispatches validation calls.
//
// Manager is safe for concurrent use after all LoadRoom calls complete. Calls
// into the same room are serialized; different rooms run concurrently.
type Manager struct {
	mu     sync.RWMutex
	states map[uint64]*vm
	logger *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no room VMs.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		states: make(map[uint64]*vm),
		logger: logger,
	}
}

// LoadRoom creates a sandboxed VM for roomID, registers the spire module, then
// executes every *.lua file in scriptDir in lexicographic order. Loading is
// bounded by instLimit like any other call.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: The room VM is registered, replacing any previous one; returns
// an error on Lua load failure and leaves the previous VM in place.
func (m *Manager) LoadRoom(ctx context.Context, roomID uint64, scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q for room %d: %w", scriptDir, roomID, err)
	}
	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	L := NewSandboxedState()
	m.RegisterModules(L, roomID)
	for _, path := range luaFiles {
		err := Limited(ctx, L, instLimit, func() error { return L.DoFile(path) })
		if err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for room %d: %w", path, roomID, err)
		}
	}

	m.mu.Lock()
	old := m.states[roomID]
	m.states[roomID] = &vm{L: L, limit: instLimit}
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	m.logger.Info("room scripts loaded", zap.Uint64("room", roomID), zap.Int("files", len(luaFiles)))
	return nil
}

// Validate asks the room's validate_command hook whether cmd may be applied.
// A room without scripts or without the hook allows every command. A script
// error, including exceeding the instruction limit, rejects the command.
//
// The hook receives a table {room, kind, payload, account, character,
// privilege} and returns either a boolean plus an optional reason, or a
// string reason meaning rejection. nil means allowed.
func (m *Manager) Validate(ctx context.Context, cmd Command) Verdict {
	m.mu.RLock()
	v := m.states[cmd.Room]
	m.mu.RUnlock()
	if v == nil {
		return Allow
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	L := v.L
	fn := L.GetGlobal(ValidateHook)
	if fn == lua.LNil {
		return Allow
	}

	arg := L.NewTable()
	arg.RawSetString("room", lua.LNumber(cmd.Room))
	arg.RawSetString("kind", lua.LString(cmd.Kind))
	arg.RawSetString("payload", lua.LString(cmd.Payload))
	arg.RawSetString("account", lua.LNumber(cmd.AccountID))
	arg.RawSetString("character", lua.LNumber(cmd.CharacterID))
	arg.RawSetString("privilege", lua.LString(cmd.Privilege))

	var first, second lua.LValue
	err := Limited(ctx, L, v.limit, func() error {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, arg); err != nil {
			return err
		}
		first, second = L.Get(-2), L.Get(-1)
		L.Pop(2)
		return nil
	})
	if err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.Uint64("room", cmd.Room),
			zap.String("hook", ValidateHook),
			zap.Error(err),
		)
		return Verdict{Reason: "validation failed"}
	}
	return verdictOf(first, second)
}

func verdictOf(first, second lua.LValue) Verdict {
	switch v := first.(type) {
	case *lua.LNilType:
		return Allow
	case lua.LBool:
		if bool(v) {
			return Allow
		}
		reason := "rejected"
		if s, ok := second.(lua.LString); ok && s != "" {
			reason = string(s)
		}
		return Verdict{Reason: reason}
	case lua.LString:
		return Verdict{Reason: string(v)}
	default:
		return Verdict{Reason: "invalid validation result"}
	}
}

// Rooms returns the ids of rooms with a loaded VM, ascending.
func (m *Manager) Rooms() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint64, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.states {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
		delete(m.states, id)
	}
}

// RoomValidator binds a Manager to one room.
type RoomValidator struct {
	m    *Manager
	room uint64
}

// ForRoom returns a validator for roomID.
func (m *Manager) ForRoom(roomID uint64) RoomValidator {
	return RoomValidator{m: m, room: roomID}
}

// Validate implements the game room's validation hook.
func (r RoomValidator) Validate(ctx context.Context, cmd Command) Verdict {
	cmd.Room = r.room
	return r.m.Validate(ctx, cmd)
}
