package main

import (
	"context"
	"fmt"
	"os"

	"crm-rpc/cache"
	"crm-rpc/client"
	"crm-rpc/conf"
	"crm-rpc/logger"
	"crm-rpc/middleware"
	"crm-rpc/registry"
	"crm-rpc/server"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type arguments struct {
	Config kong.ConfigFlag   `help:"Path to config file" type:"existingfile"`
	Server conf.ServerConfig `help:"Server configuration" embed:"" prefix:""`
	Log    logger.Config     `help:"Configuration for the logger" embed:"" prefix:"log-"`
}

func main() {
	r := &runner{}

	cfg, err := r.loadConfig(os.Args[1:])
	if err != nil {
		exitWithError(err)
	}
	log, err := cfg.Log.Build()
	if err != nil {
		exitWithError(err)
	}
	defer func() { _ = log.Sync() }()

	if err := r.run(&cfg.Server, log); err != nil {
		log.Error("failed to start crmserver", zap.Error(err))
		os.Exit(1)
	}
	defer r.close()

	// returns on shutdown, idle timeout, a fatal request, SIGINT or SIGTERM
	if err := r.server.WaitForTermination(context.Background()); err != nil {
		log.Error("failed waiting for termination", zap.Error(err))
	}
	reason, cause := r.server.Reason()
	if cause != nil {
		log.Error("crmserver exited", zap.String("reason", reason), zap.Error(cause))
		r.close()
		os.Exit(1)
	}
	log.Info("crmserver exited", zap.String("reason", reason))
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "%+v\n", err)
	os.Exit(1)
}

type runner struct {
	server   *server.Server
	registry registry.Registry
	client   *client.Client
}

func (r *runner) loadConfig(args []string) (*arguments, error) {
	cfg := arguments{}
	parser, err := kong.New(&cfg,
		kong.Name("crmserver"),
		kong.Description("Serve a key-value cache over crm-rpc."),
		kong.Configuration(konghcl.Loader),
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Server.ApplyDefaults()
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *runner) run(cfg *conf.ServerConfig, log *zap.Logger) error {
	if cfg.Cache.Mode == cache.ModeRemote {
		r.client = client.NewClient(client.WithLogger(log))
	}
	store, err := cache.Open(cfg.Cache, r.client)
	if err != nil {
		return err
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(log)}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.SlowCallThreshold > 0 {
		mws = append(mws, middleware.SlowCallMiddleware(cfg.SlowCallThreshold, log))
	}

	opts := []server.Option{
		server.WithName(cfg.Name),
		server.WithIdleTimeout(cfg.IdleTimeout),
		server.WithLogger(log),
		server.WithMiddleware(mws...),
		server.WithMaxRequestSize(cfg.MaxRequestSize),
	}
	if len(cfg.RegistryEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.RegistryEndpoints)
		if err != nil {
			return err
		}
		r.registry = reg
		opts = append(opts, server.WithRegistry(reg, cfg.AdvertiseAddress, cfg.RegistryTTL))
	}

	s, err := server.New(cfg.Address, cache.NewResource(store), opts...)
	if err != nil {
		return err
	}
	r.server = s
	return s.Start()
}

// close stops the server if it is still running and releases what run created.
func (r *runner) close() {
	if r.server != nil {
		r.server.Stop()
	}
	if r.registry != nil {
		_ = r.registry.Close()
		r.registry = nil
	}
	if r.client != nil {
		_ = r.client.Close()
		r.client = nil
	}
}
