package requests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	utils "github.com/sessamekesh/coop-relay/pkg/util"
	"go.uber.org/zap"
)

var (
	ErrTimeout = errors.New("request timed out")

	// Returned instead of deadlocking: the listener is the goroutine that
	// would deliver the response.
	ErrCalledFromListener = errors.New("cannot wait for a response on the listener goroutine")
)

const DefaultTimeout = 5 * time.Second

type listenerKey struct{}

// WithListener marks ctx as belonging to the listener goroutine.
func WithListener(ctx context.Context) context.Context {
	return context.WithValue(ctx, listenerKey{}, true)
}

func OnListener(ctx context.Context) bool {
	on, _ := ctx.Value(listenerKey{}).(bool)
	return on
}

// Callback receives the inner type and payload of a response.
type Callback func(packetType packets.PacketType, payload []byte)

// Table correlates outstanding request ids with their callbacks.
type Table struct {
	mut_pending sync.Mutex
	pending     map[int32]Callback
}

func NewTable() *Table {
	return &Table{
		pending: make(map[int32]Callback),
	}
}

// Register stores cb under a fresh random id and returns the id.
func (t *Table) Register(cb Callback) int32 {
	t.mut_pending.Lock()
	defer t.mut_pending.Unlock()

	id := utils.RandomNonZeroInt32(func(id int32) bool {
		_, has := t.pending[id]
		return has
	})
	t.pending[id] = cb
	return id
}

// Resolve fires and removes the callback for id. Responses nobody waits for
// any more are dropped and reported as false.
func (t *Table) Resolve(id int32, packetType packets.PacketType, payload []byte) bool {
	t.mut_pending.Lock()
	cb, has := t.pending[id]
	delete(t.pending, id)
	t.mut_pending.Unlock()

	if !has {
		return false
	}
	cb(packetType, payload)
	return true
}

func (t *Table) forget(id int32) {
	t.mut_pending.Lock()
	defer t.mut_pending.Unlock()
	delete(t.pending, id)
}

func (t *Table) Has(id int32) bool {
	t.mut_pending.Lock()
	defer t.mut_pending.Unlock()
	_, has := t.pending[id]
	return has
}

func (t *Table) Len() int {
	t.mut_pending.Lock()
	defer t.mut_pending.Unlock()
	return len(t.pending)
}

type response struct {
	packetType packets.PacketType
	payload    []byte
}

type Requester struct {
	table *Table
	log   *zap.Logger
}

func NewRequester(table *Table, logger *zap.Logger) *Requester {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	return &Requester{
		table: table,
		log:   logger.With(zap.String("handler", "Requests")),
	}
}

// Request sends req to conn wrapped in a Request envelope and blocks until the
// matching Response arrives, timeout elapses or ctx ends.
//
// A timed out request stays in the table until a late response removes it.
func (r *Requester) Request(ctx context.Context, conn handlers.Connection, req packets.Packet, channel packets.Channel, timeout time.Duration) (packets.PacketType, []byte, error) {
	if OnListener(ctx) {
		return 0, nil, ErrCalledFromListener
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	received := make(chan response, 1)
	id := r.table.Register(func(packetType packets.PacketType, payload []byte) {
		received <- response{packetType: packetType, payload: payload}
	})

	if err := conn.Send(packets.RequestFrame(id, req), packets.DeliveryMethod_ReliableOrdered, channel); err != nil {
		r.table.forget(id)
		return 0, nil, fmt.Errorf("send %s request: %w", req.Type(), err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-received:
		return resp.packetType, resp.payload, nil
	case <-timer.C:
		r.log.Warn("Request timed out", zap.Int32("requestId", id), zap.Stringer("type", req.Type()), zap.Uint64("connId", conn.ID()))
		return 0, nil, ErrTimeout
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// RequestAs is Request decoding the response into a T.
func RequestAs[T any, PT interface {
	*T
	packets.Packet
}](ctx context.Context, r *Requester, conn handlers.Connection, req packets.Packet, channel packets.Channel, timeout time.Duration) (PT, error) {
	packetType, payload, err := r.Request(ctx, conn, req, channel, timeout)
	if err != nil {
		return nil, err
	}

	out := PT(new(T))
	if packetType != out.Type() {
		return nil, fmt.Errorf("expected %s response, got %s", out.Type(), packetType)
	}
	if err := out.Unpack(payload); err != nil {
		return nil, err
	}
	return out, nil
}
