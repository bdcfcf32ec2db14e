package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

// MemoryFrame is one frame delivered to a MemoryPeer, with the delivery
// class and channel the server asked for.
type MemoryFrame struct {
	Data    []byte
	Method  packets.DeliveryMethod
	Channel packets.Channel
}

type MemoryTransportParams struct {
	Logger *zap.Logger
}

// MemoryTransport carries connections between goroutines of one process.
// It backs the server tests and lets the server be embedded without sockets.
type MemoryTransport struct {
	handler *handlers.TransportHandler
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mut_peers sync.Mutex
	peers     map[uint64]*MemoryPeer
	nextAddr  int
}

func CreateMemoryTransport(handler *handlers.TransportHandler, params MemoryTransportParams) *MemoryTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryTransport{
		handler: handler,
		log:     logger.With(zap.String("handler", handler.Name)),
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[uint64]*MemoryPeer),
	}
}

func (m *MemoryTransport) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-m.ctx.Done():
	}

	m.mut_peers.Lock()
	peers := make([]*MemoryPeer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mut_peers.Unlock()

	for _, p := range peers {
		p.Close()
	}
	m.cancel()
	return nil
}

// Dial opens a new in-process connection. The server sees it once the peer
// sends its first frame.
func (m *MemoryTransport) Dial() *MemoryPeer {
	m.mut_peers.Lock()
	m.nextAddr++
	addr := fmt.Sprintf("memory:%d", m.nextAddr)
	m.mut_peers.Unlock()

	p := &MemoryPeer{
		transport: m,
		notify:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	p.session = NewSession(m.ctx, m.handler, addr, p, m.log)

	m.mut_peers.Lock()
	m.peers[p.session.ID()] = p
	m.mut_peers.Unlock()

	return p
}

func (m *MemoryTransport) remove(id uint64) {
	m.mut_peers.Lock()
	defer m.mut_peers.Unlock()
	delete(m.peers, id)
}

// MemoryPeer is the remote end of an in-process connection.
type MemoryPeer struct {
	transport *MemoryTransport
	session   *Session

	mut_inbox sync.Mutex
	inbox     []MemoryFrame
	notify    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func (p *MemoryPeer) ConnectionID() uint64 {
	return p.session.ID()
}

// Send delivers a frame from the peer to the server.
func (p *MemoryPeer) Send(frame []byte) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	default:
	}

	data := make([]byte, len(frame))
	copy(data, frame)
	p.session.OnFrame(data)
	return nil
}

func (p *MemoryPeer) SetLatency(latency float32) {
	p.session.OnLatency(latency)
}

// Close drops the connection from the peer side.
func (p *MemoryPeer) Close() {
	p.CloseTransport()
	p.session.OnClosed()
}

func (p *MemoryPeer) Closed() <-chan struct{} {
	return p.closed
}

// Next waits up to timeout for the next frame from the server.
func (p *MemoryPeer) Next(timeout time.Duration) (MemoryFrame, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		p.mut_inbox.Lock()
		if len(p.inbox) > 0 {
			frame := p.inbox[0]
			p.inbox = p.inbox[1:]
			p.mut_inbox.Unlock()
			return frame, true
		}
		p.mut_inbox.Unlock()

		select {
		case <-p.notify:
		case <-deadline.C:
			return MemoryFrame{}, false
		}
	}
}

// Drain returns every frame received so far.
func (p *MemoryPeer) Drain() []MemoryFrame {
	p.mut_inbox.Lock()
	defer p.mut_inbox.Unlock()
	frames := p.inbox
	p.inbox = nil
	return frames
}

func (p *MemoryPeer) WriteFrame(data []byte, method packets.DeliveryMethod, channel packets.Channel) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	default:
	}

	frame := MemoryFrame{
		Data:    make([]byte, len(data)),
		Method:  method,
		Channel: channel,
	}
	copy(frame.Data, data)

	p.mut_inbox.Lock()
	p.inbox = append(p.inbox, frame)
	p.mut_inbox.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *MemoryPeer) CloseTransport() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.transport.remove(p.session.ID())
	})
}
