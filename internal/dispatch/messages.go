package dispatch

import (
	"context"

	"github.com/project-spire/spire-game-server/internal/player"
	"github.com/project-spire/spire-game-server/internal/room"
	"github.com/project-spire/spire-game-server/internal/session"
)

// Message is an event for the dispatcher. It is a closed union; every variant
// is handled to completion before the next message is drawn.
type Message interface {
	isServerMessage()
}

// Sender delivers messages to the dispatcher. *Dispatcher and its mailbox both
// satisfy it.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Broadcast forwards an encoded frame to rooms. A zero Room means every room.
type Broadcast struct {
	Frame []byte
	Room  room.ID
}

// SessionAuthenticated reports that the auth room attached Account to Session.
type SessionAuthenticated struct {
	Session *session.Context
	Account session.Account
}

// SessionClosed reports that a session has terminated.
type SessionClosed struct {
	Session *session.Context
}

// RoomTransferBegin asks to move a player into Target.
type RoomTransferBegin struct {
	Player *player.Bundle
	Target room.ID
}

// RoomTransferCommit is sent by a room once it has admitted a transferred player.
type RoomTransferCommit struct {
	Player *player.Bundle
	Room   room.ID
}

// StatsRequest asks for a snapshot of the registries. Reply must have room for
// one value.
type StatsRequest struct {
	Reply chan<- Stats
}

// Stats is a registry snapshot.
type Stats struct {
	Sessions  int
	Transfers int
	Rooms     []RoomStats
}

// RoomStats describes one registered room.
type RoomStats struct {
	ID      room.ID
	Name    string
	Players int
	Alive   bool
}

// playerLoaded carries the asynchronous loader result back into the dispatcher.
type playerLoaded struct {
	session   *session.Context
	account   session.Account
	character player.Character
	err       error
}

func (Broadcast) isServerMessage()            {}
func (SessionAuthenticated) isServerMessage() {}
func (SessionClosed) isServerMessage()        {}
func (RoomTransferBegin) isServerMessage()    {}
func (RoomTransferCommit) isServerMessage()   {}
func (StatsRequest) isServerMessage()         {}
func (playerLoaded) isServerMessage()         {}
