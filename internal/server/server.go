package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/docrelay/internal/config"
	"github.com/Tyrowin/docrelay/internal/metrics"
	"github.com/Tyrowin/docrelay/internal/netdiag"
	"github.com/Tyrowin/docrelay/internal/report"
)

const shutdownTimeout = 5 * time.Second

// ErrBindFailed wraps a listener bind error that Run has already reported.
var ErrBindFailed = errors.New("bind failed")

// Advertiser publishes the bound port on the local network.
type Advertiser interface {
	Start(port int) error
	Stop()
}

// Options wires the server's collaborators. Config, Handler and Reporter are
// required.
type Options struct {
	Config   config.EffectiveConfig
	Handler  http.Handler
	Reporter *report.Reporter
	Metrics  *metrics.Metrics

	// Interfaces lists local interfaces for the startup URLs; the system
	// enumeration is used when nil.
	Interfaces netdiag.InterfaceSource

	// Advertiser is started once the listener is bound. Optional.
	Advertiser Advertiser
	// AdvertiseName is the service type reported when advertising starts.
	AdvertiseName string
}

// Server owns the relay's listener and its optional metrics listener.
type Server struct {
	cfg        config.EffectiveConfig
	reporter   *report.Reporter
	metrics    *metrics.Metrics
	interfaces netdiag.InterfaceSource
	advertiser Advertiser
	advName    string

	httpServer    *http.Server
	metricsServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New builds a Server. Nothing is bound until Listen or Run.
func New(opts Options) *Server {
	if opts.Interfaces == nil {
		opts.Interfaces = netdiag.SystemInterfaces
	}
	s := &Server{
		cfg:        opts.Config,
		reporter:   opts.Reporter,
		metrics:    opts.Metrics,
		interfaces: opts.Interfaces,
		advertiser: opts.Advertiser,
		advName:    opts.AdvertiseName,
		ready:      make(chan struct{}),
	}
	s.httpServer = CreateServer(opts.Handler, opts.Reporter.ErrorLog())
	if s.cfg.MetricsAddr != "" && s.metrics != nil {
		s.metricsServer = CreateServer(s.metrics.Handler(), opts.Reporter.ErrorLog())
	}
	return s
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen succeeds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound port. With a configured port of 0 this is the
// port the system picked.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.cfg.Port
}

// Ready is closed once the listener is bound and the startup report has
// been written.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run binds, serves and blocks until ctx is cancelled, then shuts down.
//
// A bind failure is reported through the Reporter. Under ListenErrorExit
// it is returned wrapped in ErrBindFailed; under ListenErrorContinue Run
// stays up, unbound, until ctx is done and returns nil. Errors after a successful bind are logged
// and never end the process on their own.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		s.reporter.ListenerError(err)
		if s.cfg.ListenErrorPolicy == config.ListenErrorContinue {
			<-ctx.Done()
			return nil
		}
		return fmt.Errorf("%w: %w", ErrBindFailed, err)
	}

	s.announce()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.reporter.ListenerError(err)
		}
		return nil
	})

	if s.metricsServer != nil {
		g.Go(func() error {
			return s.serveMetrics()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.reporter.ShuttingDown(shutdownReason(ctx))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func shutdownReason(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return "server stopped"
}

// announce writes the startup report and starts advertising.
func (s *Server) announce() {
	port := s.Port()
	s.reporter.Listening(s.cfg.Host, port, s.cfg.Env)

	addrs, err := netdiag.LocalIPv4(s.interfaces)
	s.reporter.ConnectionURLs(addrs, port, err)

	if s.advertiser != nil {
		if err := s.advertiser.Start(port); err != nil {
			s.reporter.AdvertiseFailed(err)
		} else {
			s.reporter.Advertising(s.advName, port)
		}
	}

	close(s.ready)
}

// serveMetrics runs the metrics listener. A bind failure only disables
// metrics.
func (s *Server) serveMetrics() error {
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		s.reporter.MetricsUnavailable(s.cfg.MetricsAddr, err)
		return nil
	}
	s.reporter.MetricsListening(ln.Addr().String())
	if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.reporter.MetricsStopped(err)
	}
	return nil
}

// Shutdown stops advertising and gracefully closes both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	var errs []error
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	return errors.Join(errs...)
}
