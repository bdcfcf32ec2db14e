package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	utils "github.com/sessamekesh/coop-relay/pkg/util"
	"go.uber.org/zap"
)

type WebsocketTransportParams struct {
	ListenAddress    string
	ListenEndpoint   string
	AllowAllHosts    bool
	AllowlistedHosts []string
	DenylistedHosts  []string

	MaxReadMessageSize  int64
	OutgoingQueueLength int
	PingInterval        time.Duration

	Logger *zap.Logger
}

// WebsocketTransport serves peers over binary WebSocket messages. Every
// delivery class is reliable and ordered on this backend; channels are
// ignored.
type WebsocketTransport struct {
	upgrader *websocket.Upgrader
	params   WebsocketTransportParams
	handler  *handlers.TransportHandler

	ctx    context.Context
	cancel context.CancelFunc

	log *zap.Logger
}

func checkOrigin(r *http.Request, allowAll bool, allowlist []string, denylist []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Native clients do not send an Origin
		return true
	}
	if utils.Contains(origin, denylist) {
		return false
	}

	if allowAll {
		return true
	}

	return utils.Contains(origin, allowlist)
}

func CreateWebsocketTransport(handler *handlers.TransportHandler, params WebsocketTransportParams) (*WebsocketTransport, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.ListenEndpoint == "" {
		params.ListenEndpoint = "/"
	}
	if params.OutgoingQueueLength <= 0 {
		params.OutgoingQueueLength = 256
	}
	if params.MaxReadMessageSize <= 0 {
		params.MaxReadMessageSize = 1 << 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebsocketTransport{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, params.AllowAllHosts, params.AllowlistedHosts, params.DenylistedHosts)
			},
		},
		params:  params,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.With(zap.String("handler", handler.Name)),
	}, nil
}

type wsConnection struct {
	c       *websocket.Conn
	session *Session

	outgoing chan []byte

	closeOnce sync.Once
	closing   chan struct{}
}

func (wc *wsConnection) WriteFrame(data []byte, method packets.DeliveryMethod, _ packets.Channel) error {
	select {
	case <-wc.closing:
		return ErrConnectionClosed
	default:
	}

	if !method.IsReliable() {
		select {
		case wc.outgoing <- data:
		default:
			// Unreliable frames may be dropped under backpressure
		}
		return nil
	}

	select {
	case wc.outgoing <- data:
		return nil
	case <-wc.closing:
		return ErrConnectionClosed
	}
}

func (wc *wsConnection) CloseTransport() {
	wc.closeOnce.Do(func() {
		close(wc.closing)
	})
}

func (ws *WebsocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}
	defer c.Close()

	c.SetReadLimit(ws.params.MaxReadMessageSize)

	wc := &wsConnection{
		c:        c,
		outgoing: make(chan []byte, ws.params.OutgoingQueueLength),
		closing:  make(chan struct{}),
	}
	wc.session = NewSession(ws.ctx, ws.handler, r.RemoteAddr, wc, ws.log)
	log := wc.session.log

	log.Info("New WebSocket connection")

	c.SetPongHandler(func(appData string) error {
		if len(appData) != 8 {
			return nil
		}
		sent := int64(binary.LittleEndian.Uint64([]byte(appData)))
		rtt := time.Since(time.Unix(0, sent))
		wc.session.OnLatency(float32(rtt.Seconds() / 2))
		return nil
	})

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ws.writeLoop(wc, log)
	}()

	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}
	for {
		msgType, payload, msgErr := c.ReadMessage()
		if msgErr != nil {
			if websocket.IsCloseError(msgErr, expectedCloseErrors...) {
				log.Info("Received close request from client")
			} else if websocket.IsUnexpectedCloseError(msgErr, expectedCloseErrors...) {
				log.Warn("Unexpected close from client", zap.Error(msgErr))
			} else {
				log.Debug("WebSocket read loop ended", zap.Error(msgErr))
			}
			break
		}

		if msgType != websocket.BinaryMessage {
			log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		wc.session.OnFrame(payload)
	}

	wc.session.OnClosed()
	wc.CloseTransport()
	wg.Wait()
}

func (ws *WebsocketTransport) writeLoop(wc *wsConnection, log *zap.Logger) {
	pingInterval := ws.params.PingInterval
	if pingInterval <= 0 {
		pingInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			wc.c.Close()
			return
		case <-wc.closing:
			// Flush what was queued before the close, then say goodbye
			for {
				select {
				case data := <-wc.outgoing:
					wc.c.WriteMessage(websocket.BinaryMessage, data)
					continue
				default:
				}
				break
			}
			wc.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			wc.c.Close()
			return
		case data := <-wc.outgoing:
			if err := wc.c.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Warn("Error writing to WebSocket", zap.Error(err))
				wc.CloseTransport()
			}
		case now := <-ticker.C:
			stamp := binary.LittleEndian.AppendUint64(nil, uint64(now.UnixNano()))
			if err := wc.c.WriteControl(websocket.PingMessage, stamp, now.Add(time.Second)); err != nil {
				log.Debug("Failed to send ping", zap.Error(err))
			}
		}
	}
}

func (ws *WebsocketTransport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(ws.params.ListenEndpoint, ws)

	server := &http.Server{
		Addr:    ws.params.ListenAddress,
		Handler: mux,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		ws.log.Sugar().Infof("Starting WebSocket server at %s", ws.params.ListenAddress)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			ws.log.Error("Unexpected WebSocket server close!", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		ws.log.Info("Attempting to trigger shutdown of WebSocket server")

		ws.cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			ws.log.Error("Failed to gracefully shut down WebSocket server", zap.Error(err))
			return
		}
		ws.log.Info("Successfully shutdown WebSocket server")
	}()

	wg.Wait()

	ws.log.Info("All WebSocket server goroutines finished. Exiting gracefully!")
	return nil
}
