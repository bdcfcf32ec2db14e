package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"github.com/sessamekesh/coop-relay/pkg/security"
	"github.com/sessamekesh/coop-relay/pkg/transport"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 2 * time.Second

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// testSecurity reuses one RSA key across tests; generating keys dominates
// test time otherwise. Session keys are per server.
func testSecurity(t *testing.T) *security.Security {
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 1024)
	})
	if testKeyErr != nil {
		t.Fatalf("generate key: %v", testKeyErr)
	}
	return security.FromKey(testKey, zaptest.NewLogger(t))
}

type recordingHost struct {
	events.Hooks

	mut_seen     sync.Mutex
	connected    []string
	disconnected []string
	updates      []events.PlayerUpdate
	chats        []events.ChatMessage
	commands     []events.Command
	custom       []events.CustomEvent
}

func (h *recordingHost) OnPlayerConnected(p events.Player) {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	h.connected = append(h.connected, p.Username)
}

func (h *recordingHost) OnPlayerDisconnected(p events.Player) {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	h.disconnected = append(h.disconnected, p.Username)
}

func (h *recordingHost) OnPlayerUpdate(ev events.PlayerUpdate) {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	h.updates = append(h.updates, ev)
}

func (h *recordingHost) OnChatMessage(ev events.ChatMessage) {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	h.chats = append(h.chats, ev)
}

func (h *recordingHost) OnCommandReceived(ev events.Command) {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	h.commands = append(h.commands, ev)
}

func (h *recordingHost) OnCustomEventReceived(ev events.CustomEvent) {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	h.custom = append(h.custom, ev)
}

func (h *recordingHost) snapshot() recordingHost {
	h.mut_seen.Lock()
	defer h.mut_seen.Unlock()
	return recordingHost{
		connected:    append([]string(nil), h.connected...),
		disconnected: append([]string(nil), h.disconnected...),
		updates:      append([]events.PlayerUpdate(nil), h.updates...),
		chats:        append([]events.ChatMessage(nil), h.chats...),
		commands:     append([]events.Command(nil), h.commands...),
		custom:       append([]events.CustomEvent(nil), h.custom...),
	}
}

type harness struct {
	t      *testing.T
	srv    *Server
	mem    *transport.MemoryTransport
	host   *recordingHost
	cancel context.CancelFunc
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.PlayerInfoInterval = time.Hour
	settings.RequestTimeout = time.Second
	settings.ChatRate = 0
	return settings
}

func newHarness(t *testing.T, settings Settings, host events.Host) *harness {
	t.Helper()

	recorder := &recordingHost{}
	if host == nil {
		host = recorder
	} else {
		host = events.Multi{host, recorder}
	}

	srv, err := CreateServer(ServerParams{
		Settings: settings,
		Security: testSecurity(t),
		Host:     host,
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	handler, err := srv.CreateTransportHandler("memory")
	if err != nil {
		t.Fatalf("create transport handler: %v", err)
	}
	mem := transport.CreateMemoryTransport(handler, transport.MemoryTransportParams{Logger: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	memDone := make(chan struct{})
	go func() {
		defer close(memDone)
		mem.Start(ctx)
	}()
	go srv.Start(ctx)

	h := &harness{t: t, srv: srv, mem: mem, host: recorder, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-memDone
		srv.Stop()
	})
	return h
}

type testPeer struct {
	t        *testing.T
	peer     *transport.MemoryPeer
	username string
	pedID    int32
}

func (h *harness) dial(username string, pedID int32) *testPeer {
	return &testPeer{t: h.t, peer: h.mem.Dial(), username: username, pedID: pedID}
}

func (p *testPeer) send(pk packets.Packet) {
	p.t.Helper()
	p.sendRaw(packets.Frame(pk))
}

func (p *testPeer) sendRaw(frame []byte) {
	p.t.Helper()
	if err := p.peer.Send(frame); err != nil {
		p.t.Fatalf("%s: send failed: %v", p.username, err)
	}
}

// expect skips frames until one of packetType arrives.
func (p *testPeer) expect(packetType packets.PacketType) transport.MemoryFrame {
	p.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		frame, ok := p.peer.Next(time.Until(deadline))
		if !ok {
			p.t.Fatalf("%s: timed out waiting for %s", p.username, packetType)
		}
		if packets.PacketType(frame.Data[0]) == packetType {
			return frame
		}
	}
}

// until collects frames up to and including the first one of packetType.
func (p *testPeer) until(packetType packets.PacketType) []transport.MemoryFrame {
	p.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	frames := []transport.MemoryFrame{}
	for {
		frame, ok := p.peer.Next(time.Until(deadline))
		if !ok {
			p.t.Fatalf("%s: timed out waiting for %s", p.username, packetType)
		}
		frames = append(frames, frame)
		if packets.PacketType(frame.Data[0]) == packetType {
			return frames
		}
	}
}

func (p *testPeer) expectChat() packets.ChatMessage {
	p.t.Helper()
	frame := p.expect(packets.PacketType_ChatMessage)
	var msg packets.ChatMessage
	unpackFrame(p.t, frame.Data, &msg)
	return msg
}

func unpackFrame(t *testing.T, data []byte, pk packets.Packet) {
	t.Helper()
	_, payload, err := packets.ParseFrame(data)
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if err := pk.Unpack(payload); err != nil {
		t.Fatalf("unpack %s: %v", pk.Type(), err)
	}
}

// handshake runs the key exchange and handshake and returns the verdict.
func (p *testPeer) handshake(modVersion string) (bool, string) {
	p.t.Helper()

	p.send(&packets.PublicKeyRequest{})
	var key packets.PublicKeyResponse
	unpackFrame(p.t, p.expect(packets.PacketType_PublicKeyResponse).Data, &key)

	session, err := security.NewClientSession(security.PublicKeyFromBytes(key.Modulus, key.Exponent))
	if err != nil {
		p.t.Fatalf("client session: %v", err)
	}
	passHash, err := session.Encrypt([]byte{0xde, 0xad, 0xbe, 0xef})
	if err != nil {
		p.t.Fatalf("encrypt password: %v", err)
	}

	p.send(&packets.Handshake{
		PedID:             p.pedID,
		Username:          p.username,
		ModVersion:        modVersion,
		AesKeyCrypted:     session.EncryptedKey,
		AesIVCrypted:      session.EncryptedIV,
		PassHashEncrypted: passHash,
	})

	accepted, reason, err := transport.ParseVerdictFrame(p.expect(packets.PacketType_ConnectionVerdict).Data)
	if err != nil {
		p.t.Fatalf("parse verdict: %v", err)
	}
	return accepted, reason
}

// connect handshakes and returns every frame up to the end of the initial
// world push.
func (h *harness) connect(username string, pedID int32) (*testPeer, []transport.MemoryFrame) {
	h.t.Helper()
	p := h.dial(username, pedID)
	if accepted, reason := p.handshake("V0_5_1"); !accepted {
		h.t.Fatalf("%s denied: %s", username, reason)
	}
	return p, p.until(packets.PacketType_CustomEvent)
}

// barrier sends a PedStateSync from p; once other receives it, everything the
// server relayed from p before has arrived too. Frames before it are returned.
func (p *testPeer) barrier(other *testPeer) []transport.MemoryFrame {
	p.t.Helper()
	p.send(&packets.PedStateSync{ID: p.pedID, Flags: -1})
	frames := other.until(packets.PacketType_PedStateSync)
	return frames[:len(frames)-1]
}

func framesOfType(frames []transport.MemoryFrame, packetType packets.PacketType) []transport.MemoryFrame {
	out := []transport.MemoryFrame{}
	for _, f := range frames {
		if packets.PacketType(f.Data[0]) == packetType {
			out = append(out, f)
		}
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// expectChatLine skips chat lines until username says message.
func (p *testPeer) expectChatLine(username string, message string) {
	p.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		frame, ok := p.peer.Next(time.Until(deadline))
		if !ok {
			p.t.Fatalf("%s: timed out waiting for chat %s: %q", p.username, username, message)
		}
		if packets.PacketType(frame.Data[0]) != packets.PacketType_ChatMessage {
			continue
		}
		var msg packets.ChatMessage
		unpackFrame(p.t, frame.Data, &msg)
		if msg.Username == username && msg.Message == message {
			return
		}
	}
}

func chatLines(t *testing.T, frames []transport.MemoryFrame) []string {
	t.Helper()
	out := []string{}
	for _, f := range framesOfType(frames, packets.PacketType_ChatMessage) {
		var msg packets.ChatMessage
		unpackFrame(t, f.Data, &msg)
		out = append(out, msg.Username+": "+msg.Message)
	}
	return out
}

func toInt64(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	t.Fatalf("not an integer: %#v", v)
	return 0
}

// expectOneOf skips frames until one of the given types arrives.
func (p *testPeer) expectOneOf(types ...packets.PacketType) transport.MemoryFrame {
	p.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		frame, ok := p.peer.Next(time.Until(deadline))
		if !ok {
			p.t.Fatalf("%s: timed out waiting for %v", p.username, types)
		}
		for _, packetType := range types {
			if packets.PacketType(frame.Data[0]) == packetType {
				return frame
			}
		}
	}
}
