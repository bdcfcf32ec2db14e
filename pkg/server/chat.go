package server

import (
	"strings"

	"github.com/sessamekesh/coop-relay/pkg/clients"
	"github.com/sessamekesh/coop-relay/pkg/commands"
	"github.com/sessamekesh/coop-relay/pkg/events"
	"github.com/sessamekesh/coop-relay/pkg/packets"
	"go.uber.org/zap"
)

const ChatFloodWarning = "You are sending messages too fast!"

func (s *Server) onChatMessage(client *clients.Client, p *packets.ChatMessage) {
	if !client.AllowChat() {
		s.log.Debug("Dropping chat flood", zap.String("username", client.Username))
		client.SendChat(ServerChatName, ChatFloodWarning)
		return
	}

	player := playerOf(client)
	chatEv := events.ChatMessage{Player: player, Message: p.Message}
	s.queueJob(func() { s.host.OnChatMessage(chatEv) })

	if name, args, isCommand := commands.Parse(p.Message); isCommand {
		cmdEv := events.Command{Player: player, Name: name, Args: args}
		s.queueJob(func() {
			s.host.OnCommandReceived(cmdEv)
			s.commands.Dispatch(name, &commands.Context{
				Sender: client.Username,
				Args:   args,
				Reply: func(message string) {
					client.SendChat(ServerChatName, message)
				},
			})
		})
		return
	}

	message := strings.ReplaceAll(p.Message, "~", "")
	s.log.Info("Chat", zap.String("username", client.Username), zap.String("message", message))
	s.BroadcastChat(client.Username, message)
}

// BroadcastChat sends a chat line to every connected client.
func (s *Server) BroadcastChat(username string, message string) {
	s.sendChatTo(s.clients.All(), username, message)
}

func (s *Server) sendChatTo(targets []*clients.Client, username string, message string) {
	frame := packets.Frame(&packets.ChatMessage{Username: username, Message: message})
	s.sendFrameTo(targets, frame, packets.DeliveryMethod_ReliableOrdered, packets.Channel_Chat)
}

// RegisterCommand adds a chat command. Names are unique.
func (s *Server) RegisterCommand(cmd commands.Command) error {
	return s.commands.Register(cmd)
}
