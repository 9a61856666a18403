package origami

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func writeTestConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte(content), 0o644)
	assert.Equal(t, err, nil)
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTestConfig(t, `
domain = "app.example.com"
token = "test-token"
`)

	config, err := LoadConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Domain, "app.example.com")
	assert.Equal(t, config.Token, "test-token")
	// keys missing from the file keep the defaults
	assert.Equal(t, config.Audience, DefaultAudience)
	assert.Equal(t, config.PingInterval, time.Duration(0))

	settings := config.ClientSettings()
	assert.Equal(t, settings.ApiUrl, "https://app.example.com/gate/api")
	assert.Equal(t, settings.RtuUrl, "wss://app.example.com/gate/api/v1/rtu")

	transportSettings := settings.SubscriptionManagerSettings.RtuTransportSettings
	assert.Equal(t, transportSettings.OriginHeader, "https://app.example.com")
	assert.Equal(t, transportSettings.PingInterval, DefaultRtuTransportSettings().PingInterval)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeTestConfig(t, `
domain = "app.example.com"
auth_domain = "example.auth0.com"
audience = "https://apps.example.com/gate"
api_url = "https://api.example.com"
rtu_url = "wss://rtu.example.com"
origin = "https://origin.example.com"
token = "test-token"
client_id = "test-client"
client_secret = "test-secret"
ping_interval = "30s"
max_reconnect_attempts = 5
`)

	config, err := LoadConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.AuthDomain, "example.auth0.com")
	assert.Equal(t, config.TokenUrl(), "https://example.auth0.com/oauth/token")
	assert.Equal(t, config.Audience, "https://apps.example.com/gate")
	assert.Equal(t, config.ClientId, "test-client")
	assert.Equal(t, config.ClientSecret, "test-secret")
	assert.Equal(t, config.PingInterval, 30*time.Second)

	// explicit urls win over the domain derived ones
	settings := config.ClientSettings()
	assert.Equal(t, settings.ApiUrl, "https://api.example.com")
	assert.Equal(t, settings.RtuUrl, "wss://rtu.example.com")

	transportSettings := settings.SubscriptionManagerSettings.RtuTransportSettings
	assert.Equal(t, transportSettings.OriginHeader, "https://origin.example.com")
	assert.Equal(t, transportSettings.PingInterval, 30*time.Second)
	assert.Equal(t, transportSettings.MaxReconnectAttempts, 5)
}

func TestLoadConfigUrlsWithoutDomain(t *testing.T) {
	path := writeTestConfig(t, `
domain = ""
api_url = "https://api.example.com"
rtu_url = "wss://rtu.example.com"
`)

	config, err := LoadConfig(path)
	assert.Equal(t, err, nil)

	settings := config.ClientSettings()
	assert.Equal(t, settings.ApiUrl, "https://api.example.com")
	assert.Equal(t, settings.RtuUrl, "wss://rtu.example.com")
	// no domain to derive an origin from
	assert.Equal(t, settings.SubscriptionManagerSettings.RtuTransportSettings.OriginHeader, "")
}

func TestLoadConfigMissingDomain(t *testing.T) {
	path := writeTestConfig(t, `
domain = ""
api_url = "https://api.example.com"
`)

	_, err := LoadConfig(path)
	assert.NotEqual(t, err, nil)
}

func TestLoadConfigBadPingInterval(t *testing.T) {
	path := writeTestConfig(t, `
domain = "app.example.com"
ping_interval = "soon"
`)

	_, err := LoadConfig(path)
	assert.NotEqual(t, err, nil)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.NotEqual(t, err, nil)
}

func TestDefaultClientSettings(t *testing.T) {
	settings := DefaultClientSettings()
	assert.Equal(t, settings.ApiUrl, ApiUrlForDomain(DefaultDomain))
	assert.Equal(t, settings.RtuUrl, RtuUrlForDomain(DefaultDomain))
	assert.NotEqual(t, settings.SubscriptionManagerSettings, nil)
}
