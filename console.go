package fleetcon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/internal/command"
	"pkt.systems/fleetcon/internal/eventbus"
	"pkt.systems/fleetcon/internal/format"
	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/internal/stream"
	"pkt.systems/fleetcon/internal/version"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

// ConsoleConfig configures the console compositor.
type ConsoleConfig struct {
	API                 APIConfig
	DefaultKey          schema.StreamKey
	Style               format.Style
	ListWidth           int
	DisableAuditLogging bool
}

// APIConfig locates the execution API and its subscription endpoint.
type APIConfig struct {
	BaseURL           string
	APIToken          string
	AuthQueryParam    string
	SubscribePath     string
	Timeout           time.Duration
	HandshakeTimeout  time.Duration
	Breaker           jobapi.BreakerConfig
	GeometryPerSecond float64
	GeometryBurst     int
}

// ConsoleDeps captures dependencies required to build the console.
type ConsoleDeps struct {
	// Sink renders the active key. Required.
	Sink core.Sink
	// Events receives record and connection events in addition to the bus.
	Events core.EventSink
	// Dialer overrides the WebSocket dialer.
	Dialer core.Dialer
	// Out receives operator command listings.
	Out    io.Writer
	Logger pslog.Logger
}

// ConsoleOption toggles console components.
type ConsoleOption func(*consoleOptions)

type consoleOptions struct {
	reportGeometry bool
}

// WithGeometryReporting reports the terminal size of the run to the API.
func WithGeometryReporting() ConsoleOption {
	return func(o *consoleOptions) { o.reportGeometry = true }
}

// Console attaches one terminal to one execution run.
type Console struct {
	cfg      ConsoleConfig
	api      *jobapi.Client
	bus      *eventbus.Bus
	ctrl     *core.Controller
	commands *command.Handler
	log      pslog.Logger

	mu  sync.Mutex
	run jobapi.Run
}

// NewConsole constructs a console. The connection is opened by Attach or
// StartRun.
func NewConsole(cfg ConsoleConfig, deps ConsoleDeps, opts ...ConsoleOption) (*Console, error) {
	options := consoleOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if deps.Sink == nil {
		return nil, errors.New("console sink is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	api, err := jobapi.New(jobapi.Config{
		BaseURL:           cfg.API.BaseURL,
		APIToken:          cfg.API.APIToken,
		Timeout:           cfg.API.Timeout,
		Breaker:           cfg.API.Breaker,
		GeometryPerSecond: cfg.API.GeometryPerSecond,
		GeometryBurst:     cfg.API.GeometryBurst,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	dialer := deps.Dialer
	if dialer == nil {
		header := http.Header{}
		header.Set("User-Agent", version.UserAgent())
		if cfg.API.APIToken != "" {
			header.Set(jobapi.TokenHeader, cfg.API.APIToken)
		}
		dialer = &stream.Dialer{
			Endpoint: stream.Endpoint{
				BaseURL:        cfg.API.BaseURL,
				SubscribePath:  cfg.API.SubscribePath,
				AuthQueryParam: cfg.API.AuthQueryParam,
				AuthToken:      cfg.API.APIToken,
			},
			Header:           header,
			HandshakeTimeout: cfg.API.HandshakeTimeout,
			Logger:           logger,
		}
	}

	bus := eventbus.New(logger)
	var events core.EventSink = bus
	if deps.Events != nil {
		events = eventFanout{sinks: []core.EventSink{bus, deps.Events}}
	}
	var geometry core.GeometryReporter
	if options.reportGeometry {
		geometry = api
	}
	ctrl := core.NewController(core.ControllerConfig{
		Sink:     deps.Sink,
		Dialer:   dialer,
		Geometry: geometry,
		Events:   events,
		Logger:   logger,
	})
	commands := command.NewHandler(ctrl, command.HandlerConfig{
		Out:                 deps.Out,
		Style:               cfg.Style,
		Width:               cfg.ListWidth,
		DisableAuditLogging: cfg.DisableAuditLogging,
	})
	return &Console{
		cfg:      cfg,
		api:      api,
		bus:      bus,
		ctrl:     ctrl,
		commands: commands,
		log:      logger,
	}, nil
}

// StartRun submits a playbook run and attaches to it.
func (c *Console) StartRun(ctx context.Context, req jobapi.RunRequest) (jobapi.Run, error) {
	run, err := c.api.StartRun(ctx, req)
	if err != nil {
		return jobapi.Run{}, err
	}
	if err := c.Attach(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Attach opens the subscription of an existing run. A run without keys is
// watched through the aggregate key.
func (c *Console) Attach(ctx context.Context, run jobapi.Run) error {
	if len(run.Keys) == 0 {
		run.Keys = []schema.StreamKey{schema.AggregateKey}
		run.Titles = map[schema.StreamKey]string{schema.AggregateKey: schema.AggregateTitle}
	}
	if err := c.ctrl.Open(ctx, core.OpenRequest{
		Token:      run.Token,
		Keys:       run.Keys,
		Titles:     run.Titles,
		DefaultKey: c.cfg.DefaultKey,
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.run = run
	c.mu.Unlock()
	return nil
}

// Handle runs an operator command line. It reports false for input that is
// not a command and returns command.ErrQuit for /quit.
func (c *Console) Handle(ctx context.Context, line string) (bool, error) {
	return c.commands.Handle(ctx, line)
}

// Subscribe streams the record and connection events of the attached run.
func (c *Console) Subscribe() (<-chan eventbus.Event, func()) {
	return c.bus.Subscribe(c.Run().Token)
}

// Result polls the aggregated output of the attached run.
func (c *Console) Result(ctx context.Context) (jobapi.Result, error) {
	token := c.Run().Token
	if token == "" {
		return jobapi.Result{}, schema.ErrInvalidToken
	}
	return c.api.Result(ctx, token)
}

// Run returns the attached run.
func (c *Console) Run() jobapi.Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// Controller exposes the console controller.
func (c *Console) Controller() *core.Controller {
	return c.ctrl
}

// API exposes the REST client.
func (c *Console) API() *jobapi.Client {
	return c.api
}

// Resize re-measures the sink and reports a changed size.
func (c *Console) Resize() {
	c.ctrl.Resize()
}

// Done is closed once the stream reached its terminal state.
func (c *Console) Done() <-chan struct{} {
	return c.ctrl.Done()
}

// Close closes the stream and disposes the sink.
func (c *Console) Close() error {
	return c.ctrl.Close()
}
