package events

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type KickRequest struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

type MQTTSinkParams struct {
	Broker      string
	ClientID    string
	TopicPrefix string

	// Called for every message on <prefix>/kick
	OnKick func(req KickRequest)

	Logger *zap.Logger
}

// MQTTSink publishes server events as JSON to <prefix>/<event> so plugin
// hosts outside the process can follow the game.
type MQTTSink struct {
	Hooks

	client Publisher
	prefix string
	log    *zap.Logger
}

// ConnectMQTTSink dials the broker and subscribes to the kick topic.
func ConnectMQTTSink(params MQTTSinkParams) (*MQTTSink, mqtt.Client, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	log := logger.With(zap.String("handler", "MQTTSink"))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(params.Broker)
	opts.SetClientID(params.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info("Connected to MQTT broker", zap.String("broker", params.Broker))
		if params.OnKick == nil {
			return
		}
		topic := params.TopicPrefix + "/kick"
		if token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			var req KickRequest
			if err := json.Unmarshal(msg.Payload(), &req); err != nil {
				log.Warn("Malformed kick request", zap.Error(err))
				return
			}
			params.OnKick(req)
		}); token.Wait() && token.Error() != nil {
			log.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(token.Error()))
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("Lost connection to MQTT broker", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", params.Broker, token.Error())
	}

	return NewMQTTSink(client, params.TopicPrefix, logger), client, nil
}

func NewMQTTSink(client Publisher, topicPrefix string, logger *zap.Logger) *MQTTSink {
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	return &MQTTSink{
		client: client,
		prefix: topicPrefix,
		log:    logger.With(zap.String("handler", "MQTTSink")),
	}
}

func (s *MQTTSink) publish(event string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.log.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	topic := s.prefix + "/" + event
	token := s.client.Publish(topic, 0, false, payload)
	// Runs on the worker, so never wait on the broker indefinitely
	if !token.WaitTimeout(time.Second) {
		s.log.Warn("Timed out publishing event", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		s.log.Warn("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *MQTTSink) OnPlayerConnected(p Player) {
	s.publish("player_connected", p)
}

func (s *MQTTSink) OnPlayerDisconnected(p Player) {
	s.publish("player_disconnected", p)
}

func (s *MQTTSink) OnPlayerUpdate(ev PlayerUpdate) {
	s.publish("player_update", ev)
}

func (s *MQTTSink) OnChatMessage(ev ChatMessage) {
	s.publish("chat", ev)
}

func (s *MQTTSink) OnCommandReceived(ev Command) {
	s.publish("command", ev)
}

func (s *MQTTSink) OnCustomEventReceived(ev CustomEvent) {
	s.publish("custom_event", ev)
}
