package origami

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultDomain = "app.noteable.world"
const DefaultAudience = "https://apps.noteable.world/gate"

func ApiUrlForDomain(domain string) string {
	return fmt.Sprintf("https://%s/gate/api", domain)
}

func RtuUrlForDomain(domain string) string {
	return fmt.Sprintf("wss://%s/gate/api/v1/rtu", domain)
}

func OriginForDomain(domain string) string {
	return fmt.Sprintf("https://%s", domain)
}

func TokenUrlForAuthDomain(authDomain string) string {
	return fmt.Sprintf("https://%s/oauth/token", authDomain)
}

type ClientSettings struct {
	ApiUrl string
	RtuUrl string

	SubscriptionManagerSettings *SubscriptionManagerSettings
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		ApiUrl:                      ApiUrlForDomain(DefaultDomain),
		RtuUrl:                      RtuUrlForDomain(DefaultDomain),
		SubscriptionManagerSettings: DefaultSubscriptionManagerSettings(),
	}
}

// Config is the file facing shape of the client configuration. Urls
// are normally derived from `domain`, set `api_url` or `rtu_url` to
// point somewhere else.
type Config struct {
	Domain     string
	AuthDomain string
	Audience   string

	ApiUrl string
	RtuUrl string
	Origin string

	Token        string
	ClientId     string
	ClientSecret string

	PingInterval         time.Duration
	MaxReconnectAttempts int
}

func DefaultConfig() *Config {
	return &Config{
		Domain:   DefaultDomain,
		Audience: DefaultAudience,
	}
}

// config.toml key mapping
type fileConfig struct {
	Domain     string `toml:"domain"`
	AuthDomain string `toml:"auth_domain"`
	Audience   string `toml:"audience"`

	ApiUrl string `toml:"api_url"`
	RtuUrl string `toml:"rtu_url"`
	Origin string `toml:"origin"`

	Token        string `toml:"token"`
	ClientId     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`

	PingInterval         string `toml:"ping_interval"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
}

// LoadConfig reads a TOML config and overlays it on the defaults.
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load origami config: %w", err)
	}

	if meta.IsDefined("domain") {
		config.Domain = strings.TrimSpace(raw.Domain)
	}
	if meta.IsDefined("auth_domain") {
		config.AuthDomain = strings.TrimSpace(raw.AuthDomain)
	}
	if meta.IsDefined("audience") {
		config.Audience = strings.TrimSpace(raw.Audience)
	}
	if meta.IsDefined("api_url") {
		config.ApiUrl = strings.TrimSpace(raw.ApiUrl)
	}
	if meta.IsDefined("rtu_url") {
		config.RtuUrl = strings.TrimSpace(raw.RtuUrl)
	}
	if meta.IsDefined("origin") {
		config.Origin = strings.TrimSpace(raw.Origin)
	}
	if meta.IsDefined("token") {
		config.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("client_id") {
		config.ClientId = strings.TrimSpace(raw.ClientId)
	}
	if meta.IsDefined("client_secret") {
		config.ClientSecret = strings.TrimSpace(raw.ClientSecret)
	}
	if meta.IsDefined("ping_interval") {
		pingInterval, err := time.ParseDuration(strings.TrimSpace(raw.PingInterval))
		if err != nil {
			return nil, fmt.Errorf("load origami config: ping_interval: %w", err)
		}
		config.PingInterval = pingInterval
	}
	if meta.IsDefined("max_reconnect_attempts") {
		config.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}

	if config.Domain == "" && (config.ApiUrl == "" || config.RtuUrl == "") {
		return nil, fmt.Errorf("load origami config: domain is required unless api_url and rtu_url are both set")
	}

	return config, nil
}

func (self *Config) TokenUrl() string {
	return TokenUrlForAuthDomain(self.AuthDomain)
}

// ClientSettings materializes the runtime settings for this config.
func (self *Config) ClientSettings() *ClientSettings {
	settings := DefaultClientSettings()

	if self.ApiUrl != "" {
		settings.ApiUrl = self.ApiUrl
	} else {
		settings.ApiUrl = ApiUrlForDomain(self.Domain)
	}
	if self.RtuUrl != "" {
		settings.RtuUrl = self.RtuUrl
	} else {
		settings.RtuUrl = RtuUrlForDomain(self.Domain)
	}

	transportSettings := settings.SubscriptionManagerSettings.RtuTransportSettings
	if self.Origin != "" {
		transportSettings.OriginHeader = self.Origin
	} else if self.Domain != "" {
		transportSettings.OriginHeader = OriginForDomain(self.Domain)
	}
	if self.PingInterval != 0 {
		transportSettings.PingInterval = self.PingInterval
	}
	if self.MaxReconnectAttempts != 0 {
		transportSettings.MaxReconnectAttempts = self.MaxReconnectAttempts
	}

	return settings
}
