package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultIPInfoURL  = "https://ipinfo.io/json"
	DefaultInterval   = 10 * time.Second
	DefaultRetryDelay = 5 * time.Second
)

// Announcement is the body posted to the master server. Numbers travel as
// strings.
type Announcement struct {
	Address     string `json:"address"`
	Port        int    `json:"port,string"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Players     int    `json:"players,string"`
	MaxPlayers  int    `json:"maxPlayers,string"`
	Description string `json:"description"`
	Website     string `json:"website"`
	GameMode    string `json:"gameMode"`
	Language    string `json:"language"`
}

type ipInfo struct {
	Address string `json:"ip"`
}

type AnnouncerParams struct {
	MasterServer string
	IPInfoURL    string

	Interval   time.Duration
	RetryDelay time.Duration

	// Called before every post; Address is filled in by the announcer
	Snapshot func() Announcement

	Client *http.Client
	Logger *zap.Logger
}

type Announcer struct {
	params AnnouncerParams
	client *http.Client
	log    *zap.Logger
}

func CreateAnnouncer(params AnnouncerParams) *Announcer {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.IPInfoURL == "" {
		params.IPInfoURL = DefaultIPInfoURL
	}
	if params.Interval <= 0 {
		params.Interval = DefaultInterval
	}
	if params.RetryDelay <= 0 {
		params.RetryDelay = DefaultRetryDelay
	}
	client := params.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Announcer{
		params: params,
		client: client,
		log:    logger.With(zap.String("handler", "Announcer"), zap.String("masterServer", params.MasterServer)),
	}
}

// PublicAddress asks the ip info service for the address the server is seen
// under.
func (a *Announcer) PublicAddress(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.params.IPInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip info request failed: %s", resp.Status)
	}

	var info ipInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decoding ip info: %w", err)
	}
	if info.Address == "" {
		return "", fmt.Errorf("ip info response carries no address")
	}
	return info.Address, nil
}

// Announce posts one announcement.
func (a *Announcer) Announce(ctx context.Context, announcement Announcement) error {
	body, err := json.Marshal(announcement)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.params.MasterServer, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("master server answered %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Start resolves the public address once, then announces every interval
// until ctx ends. Failed posts are retried after the retry delay.
func (a *Announcer) Start(ctx context.Context) error {
	address, err := a.PublicAddress(ctx)
	if err != nil {
		a.log.Error("Cannot resolve public address, not announcing", zap.Error(err))
		return err
	}
	a.log.Info("Announcing to master server", zap.String("address", address))

	for {
		announcement := a.params.Snapshot()
		announcement.Address = address

		wait := a.params.Interval
		if err := a.Announce(ctx, announcement); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.log.Warn("Announcement failed", zap.Error(err))
			wait = a.params.RetryDelay
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
