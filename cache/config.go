package cache

import (
	"time"

	"crm-rpc/client"

	"github.com/pkg/errors"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"

	DefaultSize        = 1024
	DefaultCallTimeout = 5 * time.Second
)

type Config struct {
	Mode        string        `help:"Where the cache lives" enum:"local,remote" default:"local"`
	Size        int           `help:"Maximum number of entries of a local cache" default:"1024"`
	Address     string        `help:"Address of the cache server in remote mode"`
	CallTimeout time.Duration `help:"Timeout of a single remote cache call" default:"5s"`
}

func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.Size == 0 {
		c.Size = DefaultSize
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
		if c.Size < 1 {
			return errors.Errorf("invalid cache size %d, must be > 0", c.Size)
		}
	case ModeRemote:
		if c.Address == "" {
			return errors.New("cache address must be set in remote mode")
		}
		if c.CallTimeout < 0 {
			return errors.Errorf("invalid cache call timeout %s", c.CallTimeout)
		}
	default:
		return errors.Errorf("unknown cache mode %q", c.Mode)
	}
	return nil
}

// Open creates the Store cfg describes. c is only used in remote mode.
func Open(cfg Config, c *client.Client) (Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeRemote {
		if c == nil {
			return nil, errors.New("remote cache needs a client")
		}
		return NewRemoteStore(c, cfg.Address, cfg.CallTimeout), nil
	}
	store, err := NewLocalStore(cfg.Size)
	if err != nil {
		return nil, err
	}
	return store, nil
}
