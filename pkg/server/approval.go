package server

import (
	"context"
	"encoding/hex"
	goerrs "errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/errors"
	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/handlers"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

const (
	DenyReason_EmptyUsername      = "Username is empty or contains spaces!"
	DenyReason_UsernameCharset    = "Username contains special chars!"
	DenyReason_UsernameTaken      = "Username is already taken!"
	DenyReason_MalformedHandshake = "Malformed handshake packet!"
	DenyReason_ServerFull         = "Server is full!"
)

func denied(reason string) error {
	return &errors.DenyError{Reason: reason}
}

// validUsernameChars accepts letters, digits, '_' and '-'.
func validUsernameChars(username string) bool {
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// checkHandshake validates hs and negotiates the session key of conn. On
// success it returns the uppercase hex password hash the client sent.
func (s *Server) checkHandshake(conn handlers.Connection, hs *packets.Handshake) (string, error) {
	if !strings.HasPrefix(hs.ModVersion, s.settings.CompatibleVersion) {
		return "", denied(fmt.Sprintf("Mod version %s.x required!", strings.ReplaceAll(s.settings.CompatibleVersion, "_", ".")))
	}
	if strings.TrimSpace(hs.Username) == "" || strings.IndexFunc(hs.Username, unicode.IsSpace) >= 0 {
		return "", denied(DenyReason_EmptyUsername)
	}
	if !validUsernameChars(hs.Username) {
		return "", denied(DenyReason_UsernameCharset)
	}
	if s.clients.HasUsername(hs.Username) {
		return "", denied(DenyReason_UsernameTaken)
	}
	if s.clients.IsFull() {
		return "", denied(DenyReason_ServerFull)
	}

	endpoint := conn.RemoteAddr()
	if err := s.security.AddConnection(endpoint, hs.AesKeyCrypted, hs.AesIVCrypted); err != nil {
		s.log.Warn("Cannot negotiate session key", zap.String("remoteAddr", endpoint), zap.Error(err))
		return "", denied(DenyReason_MalformedHandshake)
	}

	if len(hs.PassHashEncrypted) == 0 {
		return "", nil
	}
	passHash, err := s.security.Decrypt(hs.PassHashEncrypted, endpoint)
	if err != nil {
		s.security.RemoveConnection(endpoint)
		s.log.Warn("Cannot decrypt password hash", zap.String("remoteAddr", endpoint), zap.Error(err))
		return "", denied(DenyReason_MalformedHandshake)
	}
	return strings.ToUpper(hex.EncodeToString(passHash)), nil
}

func (s *Server) onApproval(ctx context.Context, conn handlers.Connection, frame []byte) {
	log := s.log.With(zap.Uint64("connId", conn.ID()), zap.String("remoteAddr", conn.RemoteAddr()))

	deny := func(reason string) {
		log.Info("Denying handshake", zap.String("reason", reason))
		if err := conn.Deny(reason); err != nil {
			log.Warn("Failed to deny connection", zap.Error(err))
		}
	}

	var hs packets.Handshake
	packetType, payload, err := packets.ParseFrame(frame)
	if err == nil && packetType == packets.PacketType_Handshake {
		err = hs.Unpack(payload)
	}
	if err != nil {
		log.Warn("Malformed handshake", zap.Error(err))
		deny(DenyReason_MalformedHandshake)
		return
	}

	log.Debug("New handshake", zap.String("username", hs.Username), zap.String("modVersion", hs.ModVersion))

	passHash, err := s.checkHandshake(conn, &hs)
	if err == nil {
		err = s.host.OnPlayerHandshake(ctx, &events.Handshake{
			Player: events.Player{
				NetID:    conn.ID(),
				Username: hs.Username,
				PedID:    hs.PedID,
				Address:  conn.RemoteAddr(),
			},
			ModVersion:   hs.ModVersion,
			PasswordHash: passHash,
		})
		if err != nil {
			s.security.RemoveConnection(conn.RemoteAddr())
		}
	}
	if err != nil {
		var denyErr *errors.DenyError
		if goerrs.As(err, &denyErr) {
			deny(denyErr.Reason)
		} else {
			deny(err.Error())
		}
		return
	}

	if err := conn.Approve(); err != nil {
		log.Warn("Failed to approve connection", zap.Error(err))
		s.security.RemoveConnection(conn.RemoteAddr())
		return
	}

	pedID := s.entities.AddPed(hs.PedID, conn.ID())
	client := clients.New(clients.ClientParams{
		Conn:      conn,
		Username:  hs.Username,
		PedID:     pedID,
		ChatRate:  s.settings.ChatRate,
		ChatBurst: s.settings.ChatBurst,
	})
	if err := s.clients.Add(client); err != nil {
		log.Error("Failed to register approved client", zap.Error(err))
		s.entities.RemovePed(pedID)
		s.security.RemoveConnection(conn.RemoteAddr())
		conn.Disconnect(err.Error())
		return
	}

	log.Debug("Handshake succeeded", zap.String("username", hs.Username), zap.Int32("pedId", pedID), zap.String("session", client.SessionTag))
}

// onUnconnected answers the public key exchange that precedes a handshake.
func (s *Server) onUnconnected(conn handlers.Connection, frame []byte) {
	packetType, err := packets.PeekType(frame)
	if err != nil || packetType != packets.PacketType_PublicKeyRequest {
		s.log.Debug("Ignoring unconnected frame", zap.Uint64("connId", conn.ID()))
		return
	}

	modulus, exponent := s.security.GetPublicKey()
	resp := packets.Frame(&packets.PublicKeyResponse{Modulus: modulus, Exponent: exponent})
	s.log.Debug("Sending public key", zap.Uint64("connId", conn.ID()), zap.Int("length", len(resp)))
	if err := conn.SendUnconnected(resp); err != nil {
		s.log.Warn("Failed to send public key", zap.Uint64("connId", conn.ID()), zap.Error(err))
	}
}
