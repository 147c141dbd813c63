// Package conf holds the configuration of the crmserver and crmctl binaries.
//
// Both structs carry kong tags, so the same fields are settable from flags and from an HCL config
// file. Call ApplyDefaults before Validate when a struct was built by hand.
package conf

import (
	"time"

	"crm-rpc/cache"
	"crm-rpc/loadbalance"
	"crm-rpc/transport"

	"github.com/pkg/errors"
)

const (
	DefaultServerAddress      = "tcp://127.0.0.1:5555"
	DefaultServerName         = "cache"
	DefaultRateBurst          = 1
	DefaultRegistryTTLSeconds = 10
	DefaultPoolSize           = 4
)

type ServerConfig struct {
	Address           string        `help:"Address to bind, e.g. tcp://127.0.0.1:5555 or ipc:///tmp/crm.sock" default:"tcp://127.0.0.1:5555"`
	Name              string        `help:"Name the resource is advertised under" default:"cache"`
	IdleTimeout       time.Duration `help:"Terminate after this long without a request. 0 waits forever" default:"0s"`
	MaxRequestSize    uint64        `help:"Largest accepted request in bytes. 0 uses the transport default"`
	RateLimit         float64       `help:"Maximum calls per second. 0 disables limiting"`
	RateBurst         int           `help:"Burst size of the rate limiter" default:"1"`
	SlowCallThreshold time.Duration `help:"Log calls running longer than this. 0 disables it" default:"1s"`
	RegistryEndpoints []string      `help:"etcd endpoints to advertise the server in"`
	AdvertiseAddress  string        `help:"Address published in the registry. Defaults to the bound address"`
	RegistryTTL       int64         `help:"Lease TTL of the registry entry in seconds" default:"10"`
	Cache             cache.Config  `help:"Cache served by this server" embed:"" prefix:"cache-"`
}

func (c *ServerConfig) ApplyDefaults() {
	if c.Address == "" {
		c.Address = DefaultServerAddress
	}
	if c.Name == "" {
		c.Name = DefaultServerName
	}
	if c.RateBurst == 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.RegistryTTL == 0 {
		c.RegistryTTL = DefaultRegistryTTLSeconds
	}
	c.Cache.ApplyDefaults()
}

func (c *ServerConfig) Validate() error {
	if _, _, err := transport.ParseAddress(c.Address); err != nil {
		return errors.Wrap(err, "invalid address")
	}
	if c.Name == "" {
		return errors.New("name must be set")
	}
	if c.IdleTimeout < 0 {
		return errors.Errorf("invalid idle-timeout %s, must be >= 0", c.IdleTimeout)
	}
	if c.RateLimit < 0 {
		return errors.Errorf("invalid rate-limit %v, must be >= 0", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.Errorf("invalid rate-burst %d, must be > 0", c.RateBurst)
	}
	if c.SlowCallThreshold < 0 {
		return errors.Errorf("invalid slow-call-threshold %s, must be >= 0", c.SlowCallThreshold)
	}
	if len(c.RegistryEndpoints) > 0 && c.RegistryTTL < 1 {
		return errors.Errorf("invalid registry-ttl %d, must be > 0", c.RegistryTTL)
	}
	if err := c.Cache.Validate(); err != nil {
		return errors.Wrap(err, "invalid cache configuration")
	}
	return nil
}

type ClientConfig struct {
	Timeout           time.Duration `help:"How long to wait for a reply. 0 waits forever" default:"5s"`
	PoolSize          int           `help:"Idle connections kept per server" default:"4"`
	RegistryEndpoints []string      `help:"etcd endpoints used to resolve resource names"`
	Balancer          string        `help:"How to pick among servers with the same name" enum:"round-robin,weighted-random" default:"round-robin"`
}

func (c *ClientConfig) ApplyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.Balancer == "" {
		c.Balancer = loadbalance.StrategyRoundRobin
	}
}

func (c *ClientConfig) Validate() error {
	if c.Timeout < 0 {
		return errors.Errorf("invalid timeout %s, must be >= 0", c.Timeout)
	}
	if c.PoolSize < 1 {
		return errors.Errorf("invalid pool-size %d, must be > 0", c.PoolSize)
	}
	if _, err := loadbalance.New(c.Balancer); err != nil {
		return err
	}
	return nil
}
