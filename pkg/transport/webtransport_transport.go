package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

type WebtransportTransportParams struct {
	ListenAddress  string
	ListenEndpoint string

	Logger *zap.Logger

	CertPath string
	KeyPath  string

	AllowAllHosts    bool
	AllowlistedHosts []string
	DenylistedHosts  []string

	MaxReadMessageSize  uint32
	OutgoingQueueLength int
}

// WebtransportTransport serves browser peers over HTTP/3. Reliable frames
// travel on the first bidirectional stream the peer opens, each prefixed with
// its little-endian uint32 length. Unreliable frames are sent as datagrams.
type WebtransportTransport struct {
	handler *handlers.TransportHandler
	params  WebtransportTransportParams

	ctx    context.Context
	cancel context.CancelFunc

	log *zap.Logger

	s *webtransport.Server
}

func CreateWebtransportTransport(handler *handlers.TransportHandler, params WebtransportTransportParams) (*WebtransportTransport, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.ListenEndpoint == "" {
		params.ListenEndpoint = "/"
	}
	if params.MaxReadMessageSize == 0 {
		params.MaxReadMessageSize = 1 << 20
	}
	if params.OutgoingQueueLength <= 0 {
		params.OutgoingQueueLength = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebtransportTransport{
		handler: handler,
		params:  params,
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.With(zap.String("handler", handler.Name)),
	}, nil
}

type wtConnection struct {
	session *Session
	wt      *webtransport.Session

	// Reliable frames wait here until the peer has opened its stream
	outgoing chan []byte

	closeOnce sync.Once
	closing   chan struct{}
}

func (wc *wtConnection) WriteFrame(data []byte, method packets.DeliveryMethod, _ packets.Channel) error {
	select {
	case <-wc.closing:
		return ErrConnectionClosed
	default:
	}

	if !method.IsReliable() {
		return wc.wt.SendDatagram(data)
	}

	select {
	case wc.outgoing <- data:
		return nil
	case <-wc.closing:
		return ErrConnectionClosed
	}
}

func (wc *wtConnection) CloseTransport() {
	wc.closeOnce.Do(func() {
		close(wc.closing)
	})
}

func appendStreamFrame(dst []byte, data []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}

func readStreamFrame(r *bufio.Reader, maxSize uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size > maxSize {
		return nil, fmt.Errorf("stream frame of %d bytes exceeds limit %d", size, maxSize)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (wt *WebtransportTransport) onWtRequest(w http.ResponseWriter, r *http.Request) {
	wtSession, sessionError := wt.s.Upgrade(w, r)
	if sessionError != nil {
		wt.log.Warn("Failed to upgrade HTTP3 request to a WebTransport session", zap.Error(sessionError))
		w.WriteHeader(500)
		return
	}

	wc := &wtConnection{
		wt:       wtSession,
		outgoing: make(chan []byte, wt.params.OutgoingQueueLength),
		closing:  make(chan struct{}),
	}
	wc.session = NewSession(wt.ctx, wt.handler, r.RemoteAddr, wc, wt.log)
	log := wc.session.log

	log.Info("New WebTransport session")

	routeContext, routeCancel := context.WithCancel(wt.ctx)
	defer routeCancel()

	wg := sync.WaitGroup{}

	// Reliable stream: accept, then read and write length prefixed frames
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer routeCancel()

		stream, err := wtSession.AcceptStream(routeContext)
		if err != nil {
			log.Debug("No reliable stream opened", zap.Error(err))
			return
		}
		defer stream.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-routeContext.Done():
					return
				case data := <-wc.outgoing:
					if _, err := stream.Write(appendStreamFrame(nil, data)); err != nil {
						log.Warn("Error writing to reliable stream", zap.Error(err))
						routeCancel()
						return
					}
				}
			}
		}()

		reader := bufio.NewReader(stream)
		for {
			frame, err := readStreamFrame(reader, wt.params.MaxReadMessageSize)
			if err != nil {
				log.Debug("Reliable stream read loop ended", zap.Error(err))
				return
			}
			wc.session.OnFrame(frame)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer routeCancel()

		for {
			datagram, err := wtSession.ReceiveDatagram(routeContext)
			if err != nil {
				log.Debug("Datagram read loop ended", zap.Error(err))
				return
			}
			wc.session.OnFrame(datagram)
		}
	}()

	select {
	case <-routeContext.Done():
	case <-wtSession.Context().Done():
	case <-wc.closing:
		// Give the verdict frame a chance to leave before the session dies
		drainOutgoing(wc)
	}

	wc.session.OnClosed()
	wc.CloseTransport()
	wtSession.CloseWithError(0, "Connection closed")
	routeCancel()
	wg.Wait()
}

func drainOutgoing(wc *wtConnection) {
	for {
		select {
		case data := <-wc.outgoing:
			// Stream may not be open; fall back to a datagram for the last words
			wc.wt.SendDatagram(data)
		default:
			return
		}
	}
}

func (wt *WebtransportTransport) Start(ctx context.Context) error {
	certs, err := tls.LoadX509KeyPair(wt.params.CertPath, wt.params.KeyPath)
	if err != nil {
		wt.log.Error("Failed to load certificate pair", zap.Error(err))
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wt.params.ListenEndpoint, wt.onWtRequest)

	wt.s = &webtransport.Server{
		H3: http3.Server{
			Addr:            wt.params.ListenAddress,
			TLSConfig:       &tls.Config{Certificates: []tls.Certificate{certs}},
			Handler:         mux,
			EnableDatagrams: true,
		},
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, wt.params.AllowAllHosts, wt.params.AllowlistedHosts, wt.params.DenylistedHosts)
		},
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		wt.log.Info("Starting WebTransport HTTP3 server!", zap.String("address", wt.params.ListenAddress))
		defer wt.log.Info("Shutdown WebTransport HTTP3 server")
		defer wg.Done()

		if err := wt.s.ListenAndServe(); err != nil && ctx.Err() == nil {
			wt.log.Error("Unexpected WebTransport server close!", zap.Error(err))
		}
	}()

	<-ctx.Done()
	wt.cancel()
	if err := wt.s.Close(); err != nil {
		wt.log.Warn("Error closing WebTransport server", zap.Error(err))
	}
	wg.Wait()

	wt.log.Info("All WebTransport server goroutines finished. Exiting gracefully.")
	return nil
}
