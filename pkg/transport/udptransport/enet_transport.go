package udptransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/codecat/go-enet"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"github.com/sessamekesh/coop-relay/pkg/transport"
	"go.uber.org/zap"
)

type EnetTransportParams struct {
	Port     uint16
	MaxPeers uint64

	// Milliseconds per host service slice; outgoing frames are flushed between slices
	ServiceTimeout uint32

	OutgoingQueueLength int

	Logger *zap.Logger
}

type outgoingOp struct {
	peer       enet.Peer
	data       []byte
	channel    uint8
	flags      enet.PacketFlags
	disconnect bool
}

// EnetTransport serves native peers over ENet. One goroutine owns the host:
// it services network events and is the only caller of enet send functions.
type EnetTransport struct {
	handler *handlers.TransportHandler
	params  EnetTransportParams

	ctx    context.Context
	cancel context.CancelFunc

	outgoing chan outgoingOp

	mut_peers sync.Mutex
	peers     map[enet.Peer]*enetConnection

	log *zap.Logger
}

func CreateEnetTransport(handler *handlers.TransportHandler, params EnetTransportParams) (*EnetTransport, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.Port == 0 {
		return nil, fmt.Errorf("enet transport requires a port")
	}
	if params.MaxPeers == 0 {
		params.MaxPeers = 32
	}
	if params.ServiceTimeout == 0 {
		params.ServiceTimeout = 10
	}
	if params.OutgoingQueueLength <= 0 {
		params.OutgoingQueueLength = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EnetTransport{
		handler:  handler,
		params:   params,
		ctx:      ctx,
		cancel:   cancel,
		outgoing: make(chan outgoingOp, params.OutgoingQueueLength),
		peers:    make(map[enet.Peer]*enetConnection),
		log:      logger.With(zap.String("handler", handler.Name)),
	}, nil
}

func packetFlags(method packets.DeliveryMethod) enet.PacketFlags {
	if method.IsReliable() {
		return enet.PacketFlagReliable
	}
	// Unsequenced is not set, so ENet drops stale unreliable packets per channel
	return 0
}

type enetConnection struct {
	transport *EnetTransport
	peer      enet.Peer
	session   *transport.Session

	closeOnce sync.Once
	closing   chan struct{}
}

func (ec *enetConnection) WriteFrame(data []byte, method packets.DeliveryMethod, channel packets.Channel) error {
	select {
	case <-ec.closing:
		return transport.ErrConnectionClosed
	default:
	}

	op := outgoingOp{
		peer:    ec.peer,
		data:    data,
		channel: uint8(channel),
		flags:   packetFlags(method),
	}

	if !method.IsReliable() {
		select {
		case ec.transport.outgoing <- op:
		default:
			// Unreliable frames may be dropped under backpressure
		}
		return nil
	}

	select {
	case ec.transport.outgoing <- op:
		return nil
	case <-ec.transport.ctx.Done():
		return transport.ErrConnectionClosed
	}
}

func (ec *enetConnection) CloseTransport() {
	ec.closeOnce.Do(func() {
		close(ec.closing)
		select {
		case ec.transport.outgoing <- outgoingOp{peer: ec.peer, disconnect: true}:
		case <-ec.transport.ctx.Done():
		}
	})
}

func (u *EnetTransport) flushOutgoing() {
	for {
		select {
		case op := <-u.outgoing:
			if op.disconnect {
				// Waits for queued packets, so the verdict frame goes out first
				op.peer.DisconnectLater(0)
				continue
			}
			if err := op.peer.SendBytes(op.data, op.channel, op.flags); err != nil {
				u.log.Debug("Failed to send ENet packet", zap.Error(err))
			}
		default:
			return
		}
	}
}

func (u *EnetTransport) onConnect(peer enet.Peer) {
	ec := &enetConnection{
		transport: u,
		peer:      peer,
		closing:   make(chan struct{}),
	}
	ec.session = transport.NewSession(u.ctx, u.handler, peer.GetAddress().String(), ec, u.log)

	u.mut_peers.Lock()
	u.peers[peer] = ec
	u.mut_peers.Unlock()

	ec.session.Logger().Info("New ENet connection")
}

func (u *EnetTransport) onDisconnect(peer enet.Peer) {
	u.mut_peers.Lock()
	ec, has := u.peers[peer]
	delete(u.peers, peer)
	u.mut_peers.Unlock()

	if !has {
		return
	}
	ec.closeOnce.Do(func() { close(ec.closing) })
	ec.session.OnClosed()
}

func (u *EnetTransport) onReceive(peer enet.Peer, packet enet.Packet) {
	data := append([]byte(nil), packet.GetData()...)
	packet.Destroy()

	u.mut_peers.Lock()
	ec, has := u.peers[peer]
	u.mut_peers.Unlock()

	if !has {
		return
	}
	ec.session.OnFrame(data)
}

func (u *EnetTransport) Start(ctx context.Context) error {
	if err := enet.Initialize(); err != nil {
		return fmt.Errorf("initialize enet: %w", err)
	}
	defer enet.Deinitialize()

	host, err := enet.NewHost(enet.NewListenAddress(u.params.Port), u.params.MaxPeers, packets.ChannelCount, 0, 0)
	if err != nil {
		u.log.Error("Failed to create ENet host", zap.Error(err))
		return err
	}
	defer host.Destroy()

	u.log.Info("Starting ENet host", zap.Uint16("port", u.params.Port))

	for ctx.Err() == nil {
		u.flushOutgoing()

		ev := host.Service(u.params.ServiceTimeout)
		switch ev.GetType() {
		case enet.EventConnect:
			u.onConnect(ev.GetPeer())
		case enet.EventDisconnect:
			u.onDisconnect(ev.GetPeer())
		case enet.EventReceive:
			u.onReceive(ev.GetPeer(), ev.GetPacket())
		}
	}

	u.log.Info("Shutting down ENet host")

	u.mut_peers.Lock()
	remaining := make([]*enetConnection, 0, len(u.peers))
	for _, ec := range u.peers {
		remaining = append(remaining, ec)
	}
	u.mut_peers.Unlock()

	for _, ec := range remaining {
		u.flushOutgoing()
		ec.session.Disconnect("Server is shutting down!")
	}
	u.flushOutgoing()
	host.Flush()

	u.cancel()
	return nil
}
