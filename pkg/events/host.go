package events

import (
	"context"

	"github.com/sessamekesh/coop-relay/pkg/packets"
)

// Player identifies a client in events raised to the host.
type Player struct {
	NetID    uint64 `json:"netId"`
	Username string `json:"username"`
	PedID    int32  `json:"pedId"`
	Address  string `json:"address"`
}

type Handshake struct {
	Player     Player `json:"player"`
	ModVersion string `json:"modVersion"`
	// Uppercase hex of the decrypted password hash, empty if none was sent
	PasswordHash string `json:"-"`
}

type PlayerUpdate struct {
	Player   Player          `json:"player"`
	Health   int32           `json:"health"`
	Position packets.Vector3 `json:"position"`
}

type ChatMessage struct {
	Player  Player `json:"player"`
	Message string `json:"message"`
}

type Command struct {
	Player Player   `json:"player"`
	Name   string   `json:"name"`
	Args   []string `json:"args"`
}

type CustomEvent struct {
	Player Player `json:"player"`
	Hash   int32  `json:"hash"`
	// Registered name of Hash, empty when unknown
	Name string `json:"name,omitempty"`
	Args []byte `json:"args"`
}

// Host receives lifecycle and gameplay events from the server.
//
// OnPlayerHandshake runs on the listener goroutine before the connection is
// approved; a non-nil error denies it with err.Error() as the reason. Its ctx
// is marked as the listener's, so server requests made with it fail fast
// instead of blocking. All other callbacks run on the worker.
type Host interface {
	OnPlayerHandshake(ctx context.Context, ev *Handshake) error
	OnPlayerConnected(p Player)
	OnPlayerDisconnected(p Player)
	OnPlayerUpdate(ev PlayerUpdate)
	OnChatMessage(ev ChatMessage)
	OnCommandReceived(ev Command)
	OnCustomEventReceived(ev CustomEvent)
}

// Hooks implements Host with optional callbacks. Nil fields are no-ops.
type Hooks struct {
	PlayerHandshake     func(ctx context.Context, ev *Handshake) error
	PlayerConnected     func(p Player)
	PlayerDisconnected  func(p Player)
	PlayerUpdate        func(ev PlayerUpdate)
	ChatMessageReceived func(ev ChatMessage)
	CommandReceived     func(ev Command)
	CustomEventReceived func(ev CustomEvent)
}

func (h Hooks) OnPlayerHandshake(ctx context.Context, ev *Handshake) error {
	if h.PlayerHandshake == nil {
		return nil
	}
	return h.PlayerHandshake(ctx, ev)
}

func (h Hooks) OnPlayerConnected(p Player) {
	if h.PlayerConnected != nil {
		h.PlayerConnected(p)
	}
}

func (h Hooks) OnPlayerDisconnected(p Player) {
	if h.PlayerDisconnected != nil {
		h.PlayerDisconnected(p)
	}
}

func (h Hooks) OnPlayerUpdate(ev PlayerUpdate) {
	if h.PlayerUpdate != nil {
		h.PlayerUpdate(ev)
	}
}

func (h Hooks) OnChatMessage(ev ChatMessage) {
	if h.ChatMessageReceived != nil {
		h.ChatMessageReceived(ev)
	}
}

func (h Hooks) OnCommandReceived(ev Command) {
	if h.CommandReceived != nil {
		h.CommandReceived(ev)
	}
}

func (h Hooks) OnCustomEventReceived(ev CustomEvent) {
	if h.CustomEventReceived != nil {
		h.CustomEventReceived(ev)
	}
}

// Multi fans every event out to each host in order. The first handshake
// veto wins.
type Multi []Host

func (m Multi) OnPlayerHandshake(ctx context.Context, ev *Handshake) error {
	for _, h := range m {
		if err := h.OnPlayerHandshake(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) OnPlayerConnected(p Player) {
	for _, h := range m {
		h.OnPlayerConnected(p)
	}
}

func (m Multi) OnPlayerDisconnected(p Player) {
	for _, h := range m {
		h.OnPlayerDisconnected(p)
	}
}

func (m Multi) OnPlayerUpdate(ev PlayerUpdate) {
	for _, h := range m {
		h.OnPlayerUpdate(ev)
	}
}

func (m Multi) OnChatMessage(ev ChatMessage) {
	for _, h := range m {
		h.OnChatMessage(ev)
	}
}

func (m Multi) OnCommandReceived(ev Command) {
	for _, h := range m {
		h.OnCommandReceived(ev)
	}
}

func (m Multi) OnCustomEventReceived(ev CustomEvent) {
	for _, h := range m {
		h.OnCustomEventReceived(ev)
	}
}
