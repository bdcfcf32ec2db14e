package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessamekesh/coop-relay/internal"
	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/commands"
	"github.com/sessamekesh/coop-relay/pkg/entities"
	"github.com/sessamekesh/coop-relay/pkg/errors"
	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/filetransfer"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/requests"
	"github.com/sessamekesh/coop-relay/pkg/security"
	"github.com/sessamekesh/coop-relay/pkg/worker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// How often the listener wakes up to check the stop flag when idle
const pollInterval = 200 * time.Millisecond

type Settings struct {
	Name           string
	Description    string
	WelcomeMessage string
	MaxPlayers     int

	// Handshakes must carry a mod version starting with this
	CompatibleVersion string

	// Cutoffs in game units; negative disables the filter
	PlayerStreamingDistance float32
	NpcStreamingDistance    float32

	PlayerInfoInterval time.Duration
	RequestTimeout     time.Duration

	ChatRate  rate.Limit
	ChatBurst int

	// Every regular file below this directory is pushed to each client after
	// it connects. Empty disables resource pushes.
	ResourcesDirectory string
}

func DefaultSettings() Settings {
	return Settings{
		Name:                    "coop-relay",
		WelcomeMessage:          "Welcome!",
		MaxPlayers:              32,
		CompatibleVersion:       "V0_5",
		PlayerStreamingDistance: -1,
		NpcStreamingDistance:    500,
		PlayerInfoInterval:      5 * time.Second,
		RequestTimeout:          requests.DefaultTimeout,
		ChatRate:                3,
		ChatBurst:               5,
	}
}

type ServerParams struct {
	Settings Settings

	// Generated with security.DefaultKeyBits when nil
	Security *security.Security
	// Receives lifecycle and gameplay events; may be nil
	Host events.Host

	IncomingEventBufferLength int

	Logger *zap.Logger
}

// Server is the session manager: it approves connections, keeps the client
// and entity tables and relays traffic between clients.
type Server struct {
	settings Settings
	log      *zap.Logger
	security *security.Security
	host     events.Host

	clients         *internal.ClientStore
	entities        *entities.Store
	worker          *worker.Worker
	pending         *requests.Table
	requester       *requests.Requester
	requestHandlers *requests.Handlers
	commands        *commands.Registry
	files           *filetransfer.Sender

	startTime time.Time

	incomingEventsSend chan<- handlers.Event
	incomingEventsRecv <-chan handlers.Event

	mut_transportHandlers sync.Mutex
	transportHandlers     map[string]*handlers.TransportHandler
	nextConnectionID      atomic.Uint64

	// Cancelled on shutdown; aborts scheduled jobs and resource pushes
	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	stopping  atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	resources sync.WaitGroup
}

func CreateServer(params ServerParams) (*Server, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	sec := params.Security
	if sec == nil {
		var err error
		sec, err = security.New(security.DefaultKeyBits, logger)
		if err != nil {
			return nil, err
		}
	}

	host := params.Host
	if host == nil {
		host = events.Hooks{}
	}

	incomingEventBufferLength := 256
	if params.IncomingEventBufferLength > 0 {
		incomingEventBufferLength = params.IncomingEventBufferLength
	}
	incomingEvents := make(chan handlers.Event, incomingEventBufferLength)

	settings := params.Settings
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = requests.DefaultTimeout
	}
	if settings.PlayerInfoInterval <= 0 {
		settings.PlayerInfoInterval = 5 * time.Second
	}

	pending := requests.NewTable()
	requester := requests.NewRequester(pending, logger)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		settings: settings,
		log:      logger.With(zap.String("handler", "Server")),
		security: sec,
		host:     host,

		clients:         internal.CreateClientStore(settings.MaxPlayers),
		entities:        entities.NewStore(logger),
		worker:          worker.New("server", logger),
		pending:         pending,
		requester:       requester,
		requestHandlers: requests.NewHandlers(),
		commands:        commands.NewRegistry(logger),
		files: filetransfer.CreateSender(filetransfer.SenderParams{
			Requester: requester,
			Timeout:   settings.RequestTimeout,
			Logger:    logger,
		}),

		startTime: time.Now(),

		incomingEventsSend: incomingEvents,
		incomingEventsRecv: incomingEvents,

		transportHandlers: make(map[string]*handlers.TransportHandler),

		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for _, cmd := range commands.Builtins(s.commands, s.usernames) {
		if err := s.commands.Register(cmd); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Server) getNowTime() int64 {
	return time.Since(s.startTime).Microseconds()
}

// CreateTransportHandler hands out the channel a backend pushes its events
// into. Connection ids are unique across every backend of the server.
func (s *Server) CreateTransportHandler(name string) (*handlers.TransportHandler, error) {
	s.mut_transportHandlers.Lock()
	defer s.mut_transportHandlers.Unlock()

	if _, alreadyHasName := s.transportHandlers[name]; alreadyHasName {
		return nil, &errors.NameCollision{
			CollisionContext: "CreateTransportHandler",
			Name:             name,
		}
	}

	handler := &handlers.TransportHandler{
		Name:             name,
		NextConnectionID: func() uint64 { return s.nextConnectionID.Add(1) },
		GetNowTimestamp:  s.getNowTime,
		Events:           s.incomingEventsSend,
	}
	s.transportHandlers[name] = handler
	return handler, nil
}

// Start runs the listener until ctx ends or Stop is called, then drains the
// worker. Every transport event is handled on this goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(s.done)
	if s.stopping.Load() {
		s.stopOnce.Do(s.shutdown)
		return nil
	}

	s.log.Info("Server listening", zap.String("name", s.settings.Name), zap.Int("maxPlayers", s.settings.MaxPlayers))

	s.worker.Every(s.ctx, s.settings.PlayerInfoInterval, s.sendPlayerInfos)

	listenerCtx := requests.WithListener(s.ctx)
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for !s.stopping.Load() {
		select {
		case <-ctx.Done():
			s.stopping.Store(true)
		case ev := <-s.incomingEventsRecv:
			s.handleEvent(listenerCtx, ev)
		case <-poll.C:
		}
	}

	s.stopOnce.Do(s.shutdown)
	return nil
}

// Stop asks the listener to exit and waits until it has.
func (s *Server) Stop() {
	s.stopping.Store(true)
	if !s.started.Load() {
		s.stopOnce.Do(s.shutdown)
		return
	}
	<-s.done
}

func (s *Server) shutdown() {
	s.log.Info("Server shutting down")
	s.cancel()
	s.resources.Wait()
	s.worker.Close()
}

func (s *Server) handleEvent(ctx context.Context, ev handlers.Event) {
	switch ev.Type {
	case handlers.EventType_Approval:
		s.onApproval(ctx, ev.Conn, ev.Data)
	case handlers.EventType_Unconnected:
		s.onUnconnected(ev.Conn, ev.Data)
	case handlers.EventType_StatusConnected:
		if client, has := s.clients.Get(ev.Conn.ID()); has {
			s.onConnected(client)
		}
	case handlers.EventType_StatusDisconnected:
		if client, has := s.clients.Get(ev.Conn.ID()); has {
			s.onDisconnected(client)
		}
	case handlers.EventType_Data:
		client, has := s.clients.Get(ev.Conn.ID())
		if !has {
			s.log.Debug("Dropping data from unknown connection", zap.Uint64("connId", ev.Conn.ID()))
			return
		}
		s.onData(ctx, client, ev.Data)
	case handlers.EventType_LatencyUpdated:
		if client, has := s.clients.Get(ev.Conn.ID()); has {
			client.SetLatency(ev.Latency)
		}
	default:
		s.log.Error("Unhandled transport event", zap.Stringer("type", ev.Type))
	}
}

//
// Accessors

func (s *Server) Settings() Settings {
	return s.settings
}

func (s *Server) Entities() *entities.Store {
	return s.entities
}

func (s *Server) Clients() []*clients.Client {
	return s.clients.All()
}

func (s *Server) ClientByUsername(username string) (*clients.Client, bool) {
	return s.clients.GetByUsername(username)
}

func (s *Server) Security() *security.Security {
	return s.security
}

// QueueJob runs job on the server worker, after every job queued before it.
func (s *Server) QueueJob(job worker.Job) error {
	return s.worker.QueueJob(job)
}

func (s *Server) usernames() []string {
	all := s.clients.All()
	out := make([]string, 0, len(all))
	for _, c := range all {
		out = append(out, c.Username)
	}
	return out
}

func playerOf(c *clients.Client) events.Player {
	return events.Player{
		NetID:    c.NetID,
		Username: c.Username,
		PedID:    c.PedID,
		Address:  c.Conn.RemoteAddr(),
	}
}
