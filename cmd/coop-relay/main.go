// Main package for the coop-relay server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/sessamekesh/coop-relay/pkg/announce"
	"github.com/sessamekesh/coop-relay/pkg/config"
	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/security"
	"github.com/sessamekesh/coop-relay/pkg/server"
	"github.com/sessamekesh/coop-relay/pkg/status"
	"github.com/sessamekesh/coop-relay/pkg/transport"
	"github.com/sessamekesh/coop-relay/pkg/transport/udptransport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func createLogger(level string) (*zap.Logger, error) {
	if level == "" {
		if os.Getenv("APP_ENV") == "development" {
			return zap.NewDevelopment()
		}
		return zap.NewProduction()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	//
	// Flags
	configPath := flag.String("config", "", "Path to the YAML config file (default ./coop-relay.yaml)")
	envFile := flag.String("env-file", ".env", "Optional file of environment variables loaded before the config")
	hashPassword := flag.String("hash-password", "", "Print the server.password_bcrypt value for a client password hash and exit")
	flag.Parse()

	if *hashPassword != "" {
		digest, err := events.HashPassword(strings.ToUpper(*hashPassword))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(digest)
		return
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load env file:", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	logger, err := createLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid log level:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	shutdownCtx, shutdownRelease := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer shutdownRelease()

	logger.Info("Generating server key pair", zap.Int("bits", cfg.RSABits))
	sec, err := security.New(cfg.RSABits, logger)
	if err != nil {
		return err
	}

	//
	// Event hosts
	var srv *server.Server
	srvReady := make(chan struct{})
	hosts := events.Multi{events.NewPasswordGate(cfg.PasswordBcrypt)}

	if cfg.MQTT.Enabled {
		sink, mqttClient, err := events.ConnectMQTTSink(events.MQTTSinkParams{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			OnKick: func(req events.KickRequest) {
				<-srvReady
				if !srv.Kick(req.Username, req.Reason) {
					logger.Info("Kick request for unknown player", zap.String("username", req.Username))
				}
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)
		hosts = append(hosts, sink)
	}

	srv, err = server.CreateServer(server.ServerParams{
		Settings: cfg.ServerSettings(),
		Security: sec,
		Host:     hosts,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	close(srvReady)

	wg := sync.WaitGroup{}
	startLoop := func(name string, start func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(shutdownCtx); err != nil {
				logger.Error("Loop exited with error", zap.String("loop", name), zap.Error(err))
			}
		}()
	}

	//
	// Transports
	if cfg.EnetEnabled {
		enetHandler, err := srv.CreateTransportHandler("ENet")
		if err != nil {
			return err
		}
		enetServer, err := udptransport.CreateEnetTransport(enetHandler, udptransport.EnetTransportParams{
			Port:     uint16(cfg.Port),
			MaxPeers: uint64(cfg.MaxPlayers),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		logger.Info("Starting ENet server", zap.Int("port", cfg.Port))
		startLoop("ENet", enetServer.Start)
	}

	if cfg.Websocket.Enabled {
		wsHandler, err := srv.CreateTransportHandler("WebSocket")
		if err != nil {
			return err
		}
		wsServer, err := transport.CreateWebsocketTransport(wsHandler, transport.WebsocketTransportParams{
			ListenAddress:  cfg.Websocket.Address,
			ListenEndpoint: cfg.Websocket.Endpoint,
			AllowAllHosts:  true,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		startLoop("WebSocket", wsServer.Start)
	}

	if cfg.Webtransport.Enabled {
		wtHandler, err := srv.CreateTransportHandler("WebTransport")
		if err != nil {
			return err
		}
		wtServer, err := transport.CreateWebtransportTransport(wtHandler, transport.WebtransportTransportParams{
			ListenAddress:  cfg.Webtransport.Address,
			ListenEndpoint: cfg.Webtransport.Endpoint,
			CertPath:       cfg.Webtransport.CertPath,
			KeyPath:        cfg.Webtransport.KeyPath,
			AllowAllHosts:  true,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		startLoop("WebTransport", wtServer.Start)
	}

	//
	// Optional surfaces
	if cfg.Status.Enabled {
		statusServer := status.CreateStatusServer(srv, status.StatusServerParams{
			ListenAddress: cfg.Status.Address,
			Logger:        logger,
		})
		startLoop("Status", statusServer.Start)
	}

	if cfg.Announce.Enabled {
		announcer := announce.CreateAnnouncer(announce.AnnouncerParams{
			MasterServer: cfg.Announce.MasterServer,
			Interval:     cfg.Announce.Interval,
			Snapshot: func() announce.Announcement {
				return announce.Announcement{
					Port:        cfg.Port,
					Name:        cfg.Name,
					Version:     strings.ReplaceAll(cfg.CompatibleVersion, "_", "."),
					Players:     len(srv.Clients()),
					MaxPlayers:  cfg.MaxPlayers,
					Description: cfg.Description,
					Website:     cfg.Website,
					GameMode:    cfg.GameMode,
					Language:    cfg.Language,
				}
			},
			Logger: logger,
		})
		startLoop("Announcer", announcer.Start)
	}

	startLoop("Server", srv.Start)

	wg.Wait()
	logger.Info("Shut down cleanly")
	return nil
}
