// Package server exposes one resource object on a reply socket.
//
// A server owns exactly one worker goroutine, which runs the request loop:
//
//	Recv (bounded by the idle timeout)
//	  → PING      → reply PONG, keep going
//	  → SHUTDOWN  → reply SHUTDOWN_ACK, terminate
//	  → otherwise → decode [method, args] → middleware chain → method → reply payload
//
// The reply socket allows exactly one reply per request before the next receive, so the server
// handles one request at a time by construction. A request that cannot be answered (malformed
// frame, wrong part count, unknown method, failing method) terminates the session: there is no
// error reply in this protocol, and skipping the reply would leave the peer waiting forever.
//
// Sessions are not restartable. Once terminated, construct a new Server to reuse the address.
package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"crm-rpc/codec"
	"crm-rpc/logger"
	"crm-rpc/message"
	"crm-rpc/middleware"
	"crm-rpc/registry"
	"crm-rpc/transport"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrUnknownMethod  = errors.New("unknown method")
	ErrAlreadyStarted = errors.New("server already started")
	ErrTerminated     = errors.New("server terminated")
)

const defaultRegistryTTLSeconds = 10

// Termination reasons that are not errors.
const (
	ReasonStopped     = "stop requested"
	ReasonShutdown    = "shutdown requested by peer"
	ReasonIdleTimeout = "idle timeout exceeded"
	ReasonClosed      = "transport closed"
	ReasonError       = "request loop failed"
	ReasonSignal      = "interrupted by signal"
)

type options struct {
	name        string
	idleTimeout time.Duration
	log         *zap.Logger
	middlewares []middleware.Middleware
	registry    registry.Registry
	advertise   string
	ttl         int64 // seconds
	maxBody     uint64
}

type Option func(*options)

// WithName names the server in logs and in the registry. The default is the resource's type name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithIdleTimeout makes the server terminate when no request arrives for d. 0 waits forever.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMiddleware wraps method dispatch. Middlewares run in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithRegistry advertises the server under its name while it runs. An empty advertiseAddr
// uses the bound address. ttlSeconds is the lease TTL in seconds; <= 0 uses 10.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttlSeconds int64) Option {
	return func(o *options) {
		o.registry = reg
		o.advertise = advertiseAddr
		o.ttl = ttlSeconds
	}
}

// WithMaxRequestSize bounds the size of a single request.
func WithMaxRequestSize(n uint64) Option {
	return func(o *options) { o.maxBody = n }
}

// Server is one session of a resource bound to an address.
type Server struct {
	name        string
	sessionID   string
	idleTimeout time.Duration
	log         *zap.Logger

	socket  *transport.RepSocket
	svc     *service
	codec   codec.Codec
	handler middleware.HandlerFunc

	registry  registry.Registry
	advertise string
	ttl       int64

	ctx    context.Context // cancelled by Stop, unblocks the worker's receive
	cancel context.CancelFunc

	lifecycleMu sync.Mutex
	started     bool
	stopping    bool
	registered  bool

	workerDone  chan struct{}
	done        chan struct{}
	terminated  atomic.Bool // false → true, never reset
	cleanupOnce sync.Once
	reason      string // written once in cleanup, read after done is closed
	cause       error
}

// New binds address and prepares a server for rcvr. Bind failures are returned here.
func New(address string, rcvr Resource, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.idleTimeout < 0 {
		return nil, errors.Errorf("idle timeout must not be negative: %s", o.idleTimeout)
	}

	svc, err := newService(o.name, rcvr)
	if err != nil {
		return nil, err
	}

	var listenOpts []transport.ListenOption
	if o.maxBody > 0 {
		listenOpts = append(listenOpts, transport.WithMaxBodySize(o.maxBody))
	}
	socket, err := transport.Listen(address, listenOpts...)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		name:        svc.name,
		sessionID:   sessionID,
		idleTimeout: o.idleTimeout,
		log: logger.OrNop(o.log).Named("server").With(
			zap.String("name", svc.name),
			zap.String("session", sessionID),
		),
		socket:     socket,
		svc:        svc,
		codec:      codec.GetCodec(codec.CodecTypeBinary),
		registry:   o.registry,
		advertise:  o.advertise,
		ttl:        o.ttl,
		ctx:        ctx,
		cancel:     cancel,
		workerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	if s.advertise == "" {
		s.advertise = socket.Addr()
	}
	if s.ttl <= 0 {
		s.ttl = defaultRegistryTTLSeconds
	}
	// Built once here, not per request
	s.handler = middleware.Chain(o.middlewares...)(svc.call)

	s.log.Info("server bound", zap.String("address", socket.Addr()), zap.Int("methods", len(svc.methods)))
	return s, nil
}

// Start launches the worker and returns immediately.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	switch {
	case s.stopping || s.terminated.Load():
		s.lifecycleMu.Unlock()
		return ErrTerminated
	case s.started:
		s.lifecycleMu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.lifecycleMu.Unlock()

	if s.registry != nil {
		err := s.registry.Register(s.name, registry.ServiceInstance{
			Addr:      s.advertise,
			SessionID: s.sessionID,
		}, s.ttl)
		if err != nil {
			close(s.workerDone)
			s.cleanup(ReasonError, errors.Wrap(err, "registry registration"))
			return err
		}
		s.lifecycleMu.Lock()
		s.registered = true
		s.lifecycleMu.Unlock()
	}

	go s.run()
	s.log.Info("server started", zap.Duration("idle_timeout", s.idleTimeout))
	return nil
}

// Stop terminates the session and returns once cleanup is complete. It is idempotent and safe
// from any goroutine except the worker itself, i.e. not from inside a resource method.
func (s *Server) Stop() {
	s.stop(ReasonStopped)
}

func (s *Server) stop(reason string) {
	s.lifecycleMu.Lock()
	s.stopping = true
	started := s.started
	s.lifecycleMu.Unlock()

	s.cancel()
	if started {
		<-s.workerDone
	}
	s.cleanup(reason, nil)
}

// WaitForTermination blocks until the session ends. SIGINT or SIGTERM stop the server first.
// It returns ctx's error if ctx ends before the session does.
func (s *Server) WaitForTermination(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-s.done:
		return nil
	case sig := <-signals:
		s.log.Info("signal received, stopping server", zap.String("signal", sig.String()))
		s.stop(ReasonSignal)
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Done is closed once the session has terminated and cleanup finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Terminated reports whether the session has ended.
func (s *Server) Terminated() bool {
	return s.terminated.Load()
}

// Reason returns why the session ended, and the error behind it if it was a failure.
// Both are empty until Done is closed.
func (s *Server) Reason() (string, error) {
	select {
	case <-s.done:
		return s.reason, s.cause
	default:
		return "", nil
	}
}

// Addr returns the bound address, e.g. tcp://127.0.0.1:5555.
func (s *Server) Addr() string {
	return s.socket.Addr()
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) SessionID() string {
	return s.sessionID
}

func (s *Server) run() {
	defer close(s.workerDone)
	reason, err := s.serve()
	// The worker cannot join itself; cleanup here skips straight to teardown
	s.cleanup(reason, err)
}

func (s *Server) serve() (string, error) {
	for {
		req, err := s.socket.Recv(s.ctx, s.idleTimeout)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				if s.idleTimeout > 0 {
					return ReasonIdleTimeout, nil
				}
				continue
			case errors.Is(err, transport.ErrClosed):
				if s.ctx.Err() != nil {
					return ReasonStopped, nil
				}
				return ReasonClosed, nil
			default:
				return ReasonError, err
			}
		}

		switch {
		case message.IsPing(req.Body):
			s.reply(req, message.Pong)
			continue
		case message.IsShutdown(req.Body):
			s.reply(req, message.ShutdownAck)
			return ReasonShutdown, nil
		}

		payload, err := s.dispatch(req.Body)
		if err != nil {
			// No reply is sent: closing the socket in cleanup releases the peer
			return ReasonError, err
		}
		s.reply(req, payload)
	}
}

// reply answers req. A peer that hung up before its answer was ready loses the reply and the
// session carries on serving the others.
func (s *Server) reply(req *transport.Request, body []byte) {
	if err := req.Reply(body); err != nil {
		s.log.Warn("reply dropped, peer is gone", zap.Error(err))
	}
}

func (s *Server) dispatch(body []byte) ([]byte, error) {
	var call message.Call
	if err := s.codec.Decode(body, &call); err != nil {
		return nil, err
	}
	result, err := s.handler(s.ctx, &call)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.Errorf("%s.%s produced no result", s.name, call.Method)
	}
	return result.Payload, nil
}

// cleanup tears the session down once: withdraw from the registry, close the socket, run the
// resource's termination hook, then flip the termination flag.
func (s *Server) cleanup(reason string, cause error) {
	s.cleanupOnce.Do(func() {
		if cause != nil {
			s.log.Error("server terminating", zap.String("reason", reason), zap.Error(cause))
		} else {
			s.log.Info("server terminating", zap.String("reason", reason))
		}
		s.cancel()

		s.lifecycleMu.Lock()
		registered := s.registered
		s.lifecycleMu.Unlock()
		if registered {
			if err := s.registry.Deregister(s.name, s.advertise); err != nil {
				s.log.Warn("failed to deregister", zap.Error(err))
			}
		}

		if err := s.socket.Close(); err != nil {
			s.log.Warn("failed to close socket", zap.Error(err))
		}

		if err := s.svc.terminate(); err != nil {
			s.log.Error("resource termination hook failed", zap.Error(err))
		}

		s.reason = reason
		s.cause = cause
		s.terminated.Store(true)
		close(s.done)
		s.log.Info("server terminated")
	})
}
