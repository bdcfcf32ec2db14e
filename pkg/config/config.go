package config

import (
	goerrs "errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sessamekesh/coop-relay/pkg/security"
	"github.com/sessamekesh/coop-relay/pkg/server"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const (
	DefaultConfigName = "coop-relay"
	EnvPrefix         = "COOP"
)

type WebsocketConfig struct {
	Enabled  bool
	Address  string
	Endpoint string
}

type WebtransportConfig struct {
	Enabled  bool
	Address  string
	Endpoint string
	CertPath string
	KeyPath  string
}

type AnnounceConfig struct {
	Enabled      bool
	MasterServer string
	Interval     time.Duration
}

type StatusConfig struct {
	Enabled bool
	Address string
}

type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	TopicPrefix string
}

type Config struct {
	Name              string
	Port              int
	MaxPlayers        int
	WelcomeMessage    string
	Description       string
	Website           string
	GameMode          string
	Language          string
	PasswordBcrypt    string
	CompatibleVersion string

	PlayerStreamingDistance float32
	NpcStreamingDistance    float32
	PlayerInfoInterval      time.Duration

	ChatRate  float64
	ChatBurst int

	EnetEnabled  bool
	Websocket    WebsocketConfig
	Webtransport WebtransportConfig

	ResourcesDirectory string

	Announce AnnounceConfig
	Status   StatusConfig
	MQTT     MQTTConfig

	LogLevel string
	RSABits  int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "coop-relay")
	v.SetDefault("server.port", 4499)
	v.SetDefault("server.max_players", 32)
	v.SetDefault("server.welcome_message", "Welcome!")
	v.SetDefault("server.description", "")
	v.SetDefault("server.website", "")
	v.SetDefault("server.game_mode", "FreeRoam")
	v.SetDefault("server.language", "English")
	v.SetDefault("server.password_bcrypt", "")
	v.SetDefault("server.compatible_version", "V0_5")

	v.SetDefault("sync.player_streaming_distance", -1)
	v.SetDefault("sync.npc_streaming_distance", 500)
	v.SetDefault("sync.player_info_interval", "5s")

	v.SetDefault("chat.rate", 3)
	v.SetDefault("chat.burst", 5)

	v.SetDefault("transport.enet.enabled", true)
	v.SetDefault("transport.websocket.enabled", false)
	v.SetDefault("transport.websocket.address", ":4500")
	v.SetDefault("transport.websocket.endpoint", "/ws")
	v.SetDefault("transport.webtransport.enabled", false)
	v.SetDefault("transport.webtransport.address", ":4501")
	v.SetDefault("transport.webtransport.endpoint", "/wt")
	v.SetDefault("transport.webtransport.cert_path", "")
	v.SetDefault("transport.webtransport.key_path", "")

	v.SetDefault("resources.directory", "")

	v.SetDefault("announce.enabled", false)
	v.SetDefault("announce.master_server", "")
	v.SetDefault("announce.interval", "10s")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.address", ":4480")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "coop-relay")
	v.SetDefault("mqtt.topic_prefix", "coop")

	v.SetDefault("log.level", "")
	v.SetDefault("security.rsa_bits", security.DefaultKeyBits)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !goerrs.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads path, or coop-relay.yaml in the working directory when path is
// empty. Missing files are written out with the defaults. COOP_ environment
// variables override file values, e.g. COOP_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case goerrs.As(err, &notFound):
			if err := v.SafeWriteConfig(); err != nil {
				return nil, err
			}
		case path != "" && goerrs.Is(err, fs.ErrNotExist):
			if err := v.SafeWriteConfigAs(path); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Name:              v.GetString("server.name"),
		Port:              v.GetInt("server.port"),
		MaxPlayers:        v.GetInt("server.max_players"),
		WelcomeMessage:    v.GetString("server.welcome_message"),
		Description:       v.GetString("server.description"),
		Website:           v.GetString("server.website"),
		GameMode:          v.GetString("server.game_mode"),
		Language:          v.GetString("server.language"),
		PasswordBcrypt:    v.GetString("server.password_bcrypt"),
		CompatibleVersion: v.GetString("server.compatible_version"),

		PlayerStreamingDistance: float32(v.GetFloat64("sync.player_streaming_distance")),
		NpcStreamingDistance:    float32(v.GetFloat64("sync.npc_streaming_distance")),
		PlayerInfoInterval:      v.GetDuration("sync.player_info_interval"),

		ChatRate:  v.GetFloat64("chat.rate"),
		ChatBurst: v.GetInt("chat.burst"),

		EnetEnabled: v.GetBool("transport.enet.enabled"),
		Websocket: WebsocketConfig{
			Enabled:  v.GetBool("transport.websocket.enabled"),
			Address:  v.GetString("transport.websocket.address"),
			Endpoint: v.GetString("transport.websocket.endpoint"),
		},
		Webtransport: WebtransportConfig{
			Enabled:  v.GetBool("transport.webtransport.enabled"),
			Address:  v.GetString("transport.webtransport.address"),
			Endpoint: v.GetString("transport.webtransport.endpoint"),
			CertPath: v.GetString("transport.webtransport.cert_path"),
			KeyPath:  v.GetString("transport.webtransport.key_path"),
		},

		ResourcesDirectory: v.GetString("resources.directory"),

		Announce: AnnounceConfig{
			Enabled:      v.GetBool("announce.enabled"),
			MasterServer: v.GetString("announce.master_server"),
			Interval:     v.GetDuration("announce.interval"),
		},
		Status: StatusConfig{
			Enabled: v.GetBool("status.enabled"),
			Address: v.GetString("status.address"),
		},
		MQTT: MQTTConfig{
			Enabled:     v.GetBool("mqtt.enabled"),
			Broker:      v.GetString("mqtt.broker"),
			ClientID:    v.GetString("mqtt.client_id"),
			TopicPrefix: v.GetString("mqtt.topic_prefix"),
		},

		LogLevel: v.GetString("log.level"),
		RSABits:  v.GetInt("security.rsa_bits"),
	}
}

// ServerSettings maps the loaded values onto the session manager settings.
func (c *Config) ServerSettings() server.Settings {
	settings := server.DefaultSettings()
	settings.Name = c.Name
	settings.Description = c.Description
	settings.WelcomeMessage = c.WelcomeMessage
	settings.MaxPlayers = c.MaxPlayers
	settings.CompatibleVersion = c.CompatibleVersion
	settings.PlayerStreamingDistance = c.PlayerStreamingDistance
	settings.NpcStreamingDistance = c.NpcStreamingDistance
	settings.PlayerInfoInterval = c.PlayerInfoInterval
	settings.ChatRate = rate.Limit(c.ChatRate)
	settings.ChatBurst = c.ChatBurst
	settings.ResourcesDirectory = c.ResourcesDirectory
	return settings
}
