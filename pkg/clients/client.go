package clients

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"golang.org/x/time/rate"
)

// Client is an approved peer: one connection, one username and the ped the
// player controls.
type Client struct {
	NetID    uint64
	Conn     handlers.Connection
	Username string
	PedID    int32

	// Correlates log lines of one play session across reconnects of the same id
	SessionTag  string
	ConnectedAt time.Time

	latencyBits atomic.Uint32
	chatLimiter *rate.Limiter
}

type ClientParams struct {
	Conn     handlers.Connection
	Username string
	PedID    int32

	ChatRate  rate.Limit
	ChatBurst int
}

func New(params ClientParams) *Client {
	limit := params.ChatRate
	if limit == 0 {
		limit = rate.Inf
	}
	burst := params.ChatBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		NetID:       params.Conn.ID(),
		Conn:        params.Conn,
		Username:    params.Username,
		PedID:       params.PedID,
		SessionTag:  uuid.NewString(),
		ConnectedAt: time.Now(),
		chatLimiter: rate.NewLimiter(limit, burst),
	}
}

// Latency is half the measured round trip, in seconds.
func (c *Client) Latency() float32 {
	return math.Float32frombits(c.latencyBits.Load())
}

func (c *Client) SetLatency(latency float32) {
	c.latencyBits.Store(math.Float32bits(latency))
}

// AllowChat reports whether the client may send another chat line now.
func (c *Client) AllowChat() bool {
	return c.chatLimiter.Allow()
}

func (c *Client) Send(p packets.Packet, method packets.DeliveryMethod, channel packets.Channel) error {
	return c.Conn.Send(packets.Frame(p), method, channel)
}

func (c *Client) SendChat(username string, message string) error {
	return c.Send(&packets.ChatMessage{Username: username, Message: message}, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Chat)
}

func (c *Client) Kick(reason string) error {
	return c.Conn.Disconnect(reason)
}
