package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"crm-rpc/client"
	"crm-rpc/conf"
	"crm-rpc/loadbalance"
	"crm-rpc/logger"
	"crm-rpc/registry"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/pkg/errors"
)

type arguments struct {
	Config kong.ConfigFlag   `help:"Path to config file" type:"existingfile"`
	Client conf.ClientConfig `help:"Client configuration" embed:"" prefix:""`
	Log    logger.Config     `help:"Configuration for the logger" embed:"" prefix:"log-"`

	Ping     pingCmd     `cmd:"" help:"Check that a server answers."`
	Call     callCmd     `cmd:"" help:"Invoke a method and print the raw reply."`
	Shutdown shutdownCmd `cmd:"" help:"Ask a server to terminate."`
	Resolve  resolveCmd  `cmd:"" help:"Print the address of a server advertised under a name."`
}

// env is what every command runs against.
type env struct {
	ctx    context.Context
	cfg    *conf.ClientConfig
	client *client.Client
	out    io.Writer
}

type pingCmd struct {
	Address string `arg:"" help:"Server address, e.g. tcp://127.0.0.1:5555"`
}

func (c *pingCmd) Run(e *env) error {
	if !e.client.Ping(e.ctx, c.Address, e.cfg.Timeout) {
		return errors.Errorf("%s did not answer", c.Address)
	}
	_, err := fmt.Fprintln(e.out, "PONG")
	return err
}

type callCmd struct {
	Address string `arg:"" help:"Server address"`
	Method  string `arg:"" help:"Method name"`
	Payload string `arg:"" optional:"" help:"Argument payload"`
	Hex     bool   `help:"Payload is hex encoded, and the reply is printed as hex"`
}

func (c *callCmd) Run(e *env) error {
	args := []byte(c.Payload)
	if c.Hex {
		var err error
		if args, err = hex.DecodeString(c.Payload); err != nil {
			return errors.Wrap(err, "decode hex payload")
		}
	}
	reply, err := e.client.Call(e.ctx, c.Address, c.Method, args, e.cfg.Timeout)
	if err != nil {
		return err
	}
	if c.Hex {
		_, err = fmt.Fprintln(e.out, hex.EncodeToString(reply))
	} else {
		_, err = fmt.Fprintln(e.out, string(reply))
	}
	return err
}

type shutdownCmd struct {
	Address string `arg:"" help:"Server address"`
	Pid     int    `help:"Kill this process if the server does not acknowledge"`
}

func (c *shutdownCmd) Run(e *env) error {
	var proc *os.Process
	if c.Pid > 0 {
		p, err := os.FindProcess(c.Pid)
		if err != nil {
			return errors.WithStack(err)
		}
		proc = p
	}
	if !e.client.Shutdown(e.ctx, c.Address, e.cfg.Timeout, proc) {
		return errors.Errorf("%s was not shut down", c.Address)
	}
	_, err := fmt.Fprintln(e.out, "shut down")
	return err
}

type resolveCmd struct {
	Name string `arg:"" help:"Resource name"`
}

func (c *resolveCmd) Run(e *env) error {
	addr, err := e.client.Resolve(e.ctx, c.Name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.out, addr)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "crmctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg := &arguments{}
	parser, err := kong.New(cfg,
		kong.Name("crmctl"),
		kong.Description("Talk to crm-rpc servers."),
		kong.Configuration(konghcl.Loader),
	)
	if err != nil {
		return errors.WithStack(err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return errors.WithStack(err)
	}
	cfg.Client.ApplyDefaults()
	if err := cfg.Client.Validate(); err != nil {
		return err
	}
	log, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := []client.Option{
		client.WithLogger(log),
		client.WithPoolSize(cfg.Client.PoolSize),
	}
	if len(cfg.Client.RegistryEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Client.RegistryEndpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		bal, err := loadbalance.New(cfg.Client.Balancer)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithRegistry(reg, bal))
	}
	c := client.NewClient(opts...)
	defer c.Close()

	return kctx.Run(&env{
		ctx:    context.Background(),
		cfg:    &cfg.Client,
		client: c,
		out:    out,
	})
}
