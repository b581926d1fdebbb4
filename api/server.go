// Package api provides the admin/debug HTTP surface described in
// SPEC_FULL.md §C: a read-only window onto one flight run, mounted the way
// internal/serialmux.AttachAdminRoutes and internal/flightdb.AttachAdminRoutes
// mount theirs — under tsweb.Debugger(mux), Tailscale/localhost-only.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/velocity.report/internal/flight"
	"github.com/banshee-data/velocity.report/internal/flightdb"
)

// sample is one point of the rolling telemetry history the chart endpoint
// renders.
type sample struct {
	timestampNs     int64
	altitude        float64
	velocity        float64
	predictedApogee float64
	havePrediction  bool
}

// Server owns the debug HTTP surface for one flight run.
type Server struct {
	fc *flight.Context
	db *flightdb.DB

	mu         sync.Mutex
	samples    []sample
	maxSamples int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Server. db may be nil if the run has no sqlite sidecar
// attached (e.g. a quick --fast-replay mock run).
func New(fc *flight.Context, db *flightdb.DB) *Server {
	return &Server{
		fc:         fc,
		db:         db,
		maxSamples: 3600, // 15 minutes at the sampler's 4 Hz
		done:       make(chan struct{}),
	}
}

// Start spawns the background sampler that feeds the chart endpoint.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.recordSample()
			}
		}
	}()
	return nil
}

// Stop joins the sampler within a bounded timeout.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return errSamplerJoinTimeout
	}
}

var errSamplerJoinTimeout = serverErr("api: sampler join timed out")

type serverErr string

func (e serverErr) Error() string { return string(e) }

func (s *Server) recordSample() {
	apogeePkt, havePrediction := s.fc.LastApogee()
	smp := sample{
		timestampNs:     time.Now().UnixNano(),
		altitude:        s.fc.Processor.CurrentAltitude(),
		velocity:        s.fc.Processor.VerticalVelocity(),
		predictedApogee: apogeePkt.PredictedApogee,
		havePrediction:  havePrediction,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, smp)
	if len(s.samples) > s.maxSamples {
		s.samples = s.samples[len(s.samples)-s.maxSamples:]
	}
}

func (s *Server) snapshotSamples() []sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Mux builds the admin ServeMux: flight status/chart/tail endpoints plus
// (when db is non-nil) a read-only tailsql console over the flight
// database.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	debug := tsweb.Debugger(mux)

	debug.Handle("flight/status", "Current flight controller state (JSON)", http.HandlerFunc(s.handleStatus))
	debug.Handle("flight/chart", "Altitude / velocity / predicted-apogee chart", http.HandlerFunc(s.handleChart))
	debug.Handle("flight/tail", "Tail the current run's CSV log (SSE)", http.HandlerFunc(s.handleTail))

	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}

	if attacher, ok := s.fc.Servo.Actuator().(adminRouteAttacher); ok {
		attacher.AttachAdminRoutes(mux)
	}

	return mux
}

// adminRouteAttacher is implemented by servo.SerialActuator; a MockActuator
// has no serial link to expose and simply doesn't satisfy it.
type adminRouteAttacher interface {
	AttachAdminRoutes(mux *http.ServeMux)
}
