package conf

import (
	"testing"
	"time"

	"crm-rpc/cache"

	"github.com/stretchr/testify/require"
)

func validServerConfig() ServerConfig {
	cfg := ServerConfig{}
	cfg.ApplyDefaults()
	return cfg
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := validServerConfig()
	require.Equal(t, DefaultServerAddress, cfg.Address)
	require.Equal(t, DefaultServerName, cfg.Name)
	require.Equal(t, DefaultRateBurst, cfg.RateBurst)
	require.EqualValues(t, DefaultRegistryTTLSeconds, cfg.RegistryTTL)
	require.Equal(t, cache.ModeLocal, cfg.Cache.Mode)
	require.NoError(t, cfg.Validate())
}

func TestServerConfigValidate(t *testing.T) {
	cases := map[string]func(cfg *ServerConfig){
		"bad address":          func(cfg *ServerConfig) { cfg.Address = "udp://127.0.0.1:1" },
		"no name":              func(cfg *ServerConfig) { cfg.Name = "" },
		"negative idle":        func(cfg *ServerConfig) { cfg.IdleTimeout = -time.Second },
		"negative rate":        func(cfg *ServerConfig) { cfg.RateLimit = -1 },
		"zero burst":           func(cfg *ServerConfig) { cfg.RateLimit = 10; cfg.RateBurst = 0 },
		"negative slow call":   func(cfg *ServerConfig) { cfg.SlowCallThreshold = -time.Second },
		"registry without ttl": func(cfg *ServerConfig) { cfg.RegistryEndpoints = []string{"x:2379"}; cfg.RegistryTTL = -1 },
		"remote cache without address": func(cfg *ServerConfig) {
			cfg.Cache.Mode = cache.ModeRemote
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validServerConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig{}
	cfg.ApplyDefaults()
	require.Equal(t, DefaultPoolSize, cfg.PoolSize)
	require.NoError(t, cfg.Validate())

	cfg.Balancer = "fastest"
	require.Error(t, cfg.Validate())

	cfg = ClientConfig{Timeout: -time.Second}
	cfg.ApplyDefaults()
	require.Error(t, cfg.Validate())
}
