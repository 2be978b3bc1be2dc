package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Polling metrics
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_polls_total",
			Help: "Total usage polls, by outcome",
		},
		[]string{"contract", "result"},
	)

	RemainingGB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_remaining_gb",
			Help: "Remaining high-speed volume in GB from the last accepted snapshot",
		},
		[]string{"contract"},
	)

	ConsumptionRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_rate_gb_per_second",
			Help: "Estimated consumption rate in GB per second",
		},
		[]string{"contract"},
	)

	IntervalSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_interval_seconds",
			Help: "Current polling interval in seconds",
		},
		[]string{"contract"},
	)

	// Top-up metrics
	TopUpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_topups_total",
			Help: "Total top-up attempts, by outcome",
		},
		[]string{"contract", "result"},
	)

	// Session metrics
	AuthRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_auth_recoveries_total",
			Help: "Total re-authentication attempts, by outcome",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		PollsTotal,
		RemainingGB,
		ConsumptionRate,
		IntervalSeconds,
		TopUpsTotal,
		AuthRecoveriesTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
