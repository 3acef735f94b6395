package proxy

import (
	"context"
	"fmt"
	"net/url"
	"os/user"
	"sync"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/device"
	"github.com/istopwg/ippinfra/internal/ipp"
)

// shutdownTimeout bounds the best-effort deregistration at exit.
const shutdownTimeout = 30 * time.Second

// Config holds the proxy configuration.
type Config struct {
	// PrinterURI is the infrastructure printer, or a system service
	// URI (resource path /ipp/system) to register against.
	PrinterURI string

	// DeviceURI is the local output device (ipp, ipps or socket).
	DeviceURI string

	// OutputFormat overrides the automatic output format selection.
	OutputFormat string

	Username  string
	Password  string
	TLSVerify bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	username := "anonymous"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return Config{Username: username}
}

// Proxy bridges one infrastructure printer to one local output device.
type Proxy struct {
	cfg  Config
	log  zerolog.Logger
	uuid string

	// printerURI may be rewritten once during registration when the
	// configured URI points at a system service.
	printerURI string

	cli         *ipp.Client      // event-side session, owned by Run
	deviceAttrs goipp.Attributes // last set accepted by the infrastructure
	table       *jobTable
	subID       int
	seq         int
}

// New validates the configuration and creates a proxy.
func New(cfg Config, log zerolog.Logger) (*Proxy, error) {
	if cfg.PrinterURI == "" {
		return nil, fmt.Errorf("missing infrastructure printer URI")
	}
	if cfg.DeviceURI == "" {
		return nil, fmt.Errorf("missing device URI")
	}
	u, err := url.Parse(cfg.DeviceURI)
	if err != nil {
		return nil, fmt.Errorf("bad device URI %q: %w", cfg.DeviceURI, err)
	}
	switch u.Scheme {
	case "ipp", "ipps", "socket":
	default:
		return nil, fmt.Errorf("unsupported device URI scheme %q", u.Scheme)
	}
	if cfg.Username == "" {
		cfg.Username = DefaultConfig().Username
	}

	uuid := device.MakeUUID(cfg.DeviceURI)
	log.Debug().Str("device", cfg.DeviceURI).Str("uuid", uuid).Msg("derived device UUID")

	return &Proxy{
		cfg:        cfg,
		log:        log.With().Str("component", "proxy").Logger(),
		uuid:       uuid,
		printerURI: cfg.PrinterURI,
		table:      newJobTable(),
	}, nil
}

// Run registers with the infrastructure printer and relays jobs until
// ctx is cancelled. The returned error is always a registration-scope
// failure; a signal-driven shutdown returns nil.
func (p *Proxy) Run(ctx context.Context) error {
	cli, err := ipp.NewClient(p.printerURI, p.clientOptions(), p.log)
	if err != nil {
		return err
	}
	p.cli = cli

	p.log.Info().Str("printer", p.printerURI).Msg("connecting to infrastructure printer")
	if err := p.cli.ConnectBackoff(ctx); err != nil {
		return err
	}

	if err := p.register(ctx); err != nil {
		return err
	}

	probed, err := device.Probe(ctx, p.cfg.DeviceURI, p.clientOptions(),
		p.log.With().Str("component", "device").Logger())
	if err != nil {
		return err
	}
	if err := p.updateDeviceAttrs(ctx, probed); err != nil {
		return err
	}

	if err := p.subscribe(ctx); err != nil {
		return err
	}

	transport, err := device.NewTransport(p.cfg.DeviceURI, p.clientOptions(),
		p.log.With().Str("component", "device").Logger())
	if err != nil {
		return err
	}
	w := &worker{
		printerURI: p.printerURI,
		opts:       p.clientOptions(),
		user:       p.cfg.Username,
		uuid:       p.uuid,
		format:     p.outputFormat(),
		table:      p.table,
		dev:        transport,
		log:        p.log.With().Str("component", "worker").Logger(),
	}

	// The worker runs on its own cancellation so error returns below
	// can stop it even while the caller's context is still live.
	wctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.run(wctx)
	}()

	if err := p.scanJobs(ctx); err != nil {
		stop()
		wg.Wait()
		return err
	}

	p.poll(ctx)

	// Shutdown: stop the worker and let it drain, then tear down
	// best-effort.
	stop()
	wg.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	p.deregister(sctx)

	p.log.Info().Msg("shutdown complete")
	return nil
}

func (p *Proxy) clientOptions() ipp.ClientOptions {
	return ipp.ClientOptions{
		Username:  p.cfg.Username,
		Password:  p.cfg.Password,
		TLSVerify: p.cfg.TLSVerify,
	}
}

// outputFormat picks the document format requested from the
// infrastructure: the configured override, or the best format the
// device advertises. Empty means let the infrastructure choose.
func (p *Proxy) outputFormat() string {
	if p.cfg.OutputFormat != "" {
		return p.cfg.OutputFormat
	}
	formats := ipp.AttrStrings(p.deviceAttrs, "document-format-supported")
	contains := func(f string) bool {
		for _, s := range formats {
			if s == f {
				return true
			}
		}
		return false
	}
	if contains("application/pdf") {
		// PDF-capable devices take whatever the infrastructure
		// prefers to send.
		return ""
	}
	for _, f := range []string{"image/urf", "image/pwg-raster", "application/vnd.hp-pcl"} {
		if contains(f) {
			return f
		}
	}
	return ""
}

// newRequest builds an infrastructure-bound request carrying the
// attributes every operation in the protocol requires.
func (p *Proxy) newRequest(op goipp.Op) *goipp.Message {
	req := p.cli.NewRequest(op)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(p.printerURI)))
	req.Operation.Add(goipp.MakeAttribute("output-device-uuid",
		goipp.TagURI, goipp.String(p.uuid)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(p.cfg.Username)))
	return req
}
