// Package apogee implements the Apogee Predictor (spec.md §4.3): a
// background worker that curve-fits coast-phase vertical acceleration to
// a(t) = A·(1-B·t)^4 and turns the fit into a predicted apogee via a
// precomputed lookup table.
package apogee

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
)

// Tuning groups the configuration knobs named in spec.md §4.3.
type Tuning struct {
	Gravity                    float64
	MinPacketsForFit           int
	InitialA, InitialB         float64
	MaxIterations              int
	UncertaintyThreshold1      float64
	UncertaintyThreshold2      float64
	FlightLengthSeconds        float64
	IntegrationTimeStepSeconds float64
	FixInitialVelocityAtFirstFit bool
}

// Predictor runs the fit/lookup-table/evaluate cycle described in
// spec.md §4.3 in its own goroutine. Shutdown is a context cancellation
// followed by a bounded-timeout wait for the worker to exit (see Stop).
type Predictor struct {
	tuning Tuning

	input  chan []packets.ProcessorDataPacket
	output chan packets.ApogeePredictorDataPacket

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex

	times    []float64
	accels   []float64
	newSince int

	currentAltitude float64
	currentVelocity float64

	a, b                     float64
	uncertainty1, uncertainty2 float64
	converged                bool
	firstConvergenceEmitted bool

	initialVelocity     float64
	haveInitialVelocity bool

	velocities    []float64
	deltaHeights  []float64
}

// New creates a Predictor. inputCapacity bounds the processor->predictor
// queue; spec.md §4.3 requires this to be large enough that normal Coast
// operation never drops a batch.
func New(tuning Tuning, inputCapacity int) *Predictor {
	return &Predictor{
		tuning: tuning,
		input:  make(chan []packets.ProcessorDataPacket, inputCapacity),
		output: make(chan packets.ApogeePredictorDataPacket, inputCapacity),
		done:   make(chan struct{}),
	}
}

// Start spawns the background worker.
func (p *Predictor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-p.input:
				if !ok {
					return
				}
				p.processBatch(batch)
			}
		}
	}()
	return nil
}

// Stop signals shutdown and joins within a bounded timeout. The worker
// ignores interrupt signals per spec.md §4.3; only the Context requests
// shutdown.
func (p *Predictor) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		monitoring.Logf("apogee: stop() timed out waiting for worker to join")
		return errTimeout
	}
}

var errTimeout = stopTimeoutErr("apogee: worker join timed out")

type stopTimeoutErr string

func (e stopTimeoutErr) Error() string { return string(e) }

// Update enqueues one or more Processor Data Packets for prediction. Must
// be called only during Coast phase (enforced by the caller, the Coast
// state).
func (p *Predictor) Update(batch []packets.ProcessorDataPacket) {
	if len(batch) == 0 {
		return
	}
	select {
	case p.input <- batch:
	default:
		monitoring.Logf("apogee: input queue full, dropping batch of %d", len(batch))
	}
}

// GetPredictionDataPackets is a non-blocking drain of all pending output
// packets.
func (p *Predictor) GetPredictionDataPackets() []packets.ApogeePredictorDataPacket {
	var out []packets.ApogeePredictorDataPacket
	for {
		select {
		case pkt := <-p.output:
			out = append(out, pkt)
		default:
			return out
		}
	}
}

// QueueSize reports the current input queue depth, for the Context Data
// Packet's apogee_predictor_queue_size field.
func (p *Predictor) QueueSize() int { return len(p.input) }

func (p *Predictor) processBatch(batch []packets.ProcessorDataPacket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cumulative := 0.0
	if len(p.times) > 0 {
		cumulative = p.times[len(p.times)-1]
	}
	for _, pkt := range batch {
		cumulative += pkt.TimeSinceLastPacket
		p.times = append(p.times, cumulative)
		p.accels = append(p.accels, pkt.VerticalAcceleration)
		p.newSince++
		p.currentAltitude = pkt.CurrentAltitude
		p.currentVelocity = pkt.VerticalVelocity
	}

	if !p.converged && p.newSince >= p.tuning.MinPacketsForFit {
		p.fit()
		p.newSince = 0
	}

	if len(p.velocities) == 0 {
		p.buildLookupTable()
	}

	apogee := p.predict()

	p.output <- packets.ApogeePredictorDataPacket{
		PredictedApogee:       apogee,
		ACoefficient:          p.a,
		BCoefficient:          p.b,
		UncertaintyThreshold1: p.uncertainty1,
		UncertaintyThreshold2: p.uncertainty2,
	}
}

// model is the drag surrogate from spec.md §4.3.
func model(t, a, b float64) float64 {
	return a * math.Pow(1-b*t, 4)
}

// fit runs a nonlinear least-squares fit of model(t, A, B) against the
// accumulated (times, accels) samples, bounded at tuning.MaxIterations
// iterations, seeded at the configured (A0, B0). If the optimizer returns
// an error, the covariance matrix cannot be inverted, or an uncertainty is
// NaN, the previous A/B/uncertainty values are kept unchanged. A fit that
// stops at the iteration bound without an optimizer error is accepted.
func (p *Predictor) fit() {
	n := len(p.times)
	if n < 2 {
		return
	}

	a0, b0 := p.tuning.InitialA, p.tuning.InitialB
	if p.a != 0 || p.b != 0 {
		a0, b0 = p.a, p.b
	}

	residual := func(x []float64) float64 {
		a, b := x[0], x[1]
		sum := 0.0
		for i, t := range p.times {
			r := model(t, a, b) - p.accels[i]
			sum += r * r
		}
		return sum
	}

	problem := optimize.Problem{
		Func: residual,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, residual, x, nil)
		},
	}

	result, err := optimize.Minimize(problem, []float64{a0, b0}, &optimize.Settings{
		MajorIterations: p.tuning.MaxIterations,
	}, &optimize.LBFGS{})
	if err != nil || result == nil {
		monitoring.Logf("apogee: curve fit failed, reusing previous coefficients: %v", err)
		return
	}

	fittedA, fittedB := result.X[0], result.X[1]

	residualVec := func(dst, x []float64) {
		a, b := x[0], x[1]
		for i, t := range p.times {
			dst[i] = model(t, a, b) - p.accels[i]
		}
	}
	jac := mat.NewDense(n, 2, nil)
	fd.Jacobian(jac, residualVec, result.X, nil)

	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)
	var jtjInv mat.Dense
	if err := jtjInv.Inverse(&jtj); err != nil {
		monitoring.Logf("apogee: covariance inversion failed, reusing previous coefficients: %v", err)
		return
	}

	dof := float64(n - 2)
	if dof < 1 {
		dof = 1
	}
	sigma2 := residual(result.X) / dof
	u1 := math.Sqrt(math.Abs(sigma2 * jtjInv.At(0, 0)))
	u2 := math.Sqrt(math.Abs(sigma2 * jtjInv.At(1, 1)))

	if math.IsNaN(u1) || math.IsNaN(u2) {
		monitoring.Logf("apogee: curve fit produced NaN uncertainty, reusing previous coefficients")
		return
	}

	p.a, p.b = fittedA, fittedB
	p.uncertainty1, p.uncertainty2 = u1, u2

	if u1 < p.tuning.UncertaintyThreshold1 && u2 < p.tuning.UncertaintyThreshold2 {
		p.converged = true
	}
	// Force a lookup-table rebuild: until convergence every cycle
	// rebuilds it (spec.md §4.3 step 4); after convergence, only the
	// first post-convergence cycle needs to.
	p.velocities = nil
	p.deltaHeights = nil
}

// buildLookupTable implements spec.md §4.3 step 5.
func (p *Predictor) buildLookupTable() {
	step := p.tuning.IntegrationTimeStepSeconds
	if step <= 0 {
		step = 0.01
	}
	n := int(p.tuning.FlightLengthSeconds / step)
	if n < 1 {
		n = 1
	}

	offset := 0.0
	if p.tuning.FixInitialVelocityAtFirstFit {
		if !p.haveInitialVelocity {
			p.initialVelocity = p.currentVelocity
			p.haveInitialVelocity = true
		}
		offset = p.initialVelocity
	} else {
		offset = p.currentVelocity
	}

	velocities := make([]float64, 0, n)
	heights := make([]float64, 0, n)

	v := offset
	h := 0.0
	for i := 0; i < n; i++ {
		t := float64(i) * step
		a := model(t, p.a, p.b) - p.tuning.Gravity
		v += a * step
		h += v * step
		if v < 0 {
			continue
		}
		velocities = append(velocities, v)
		heights = append(heights, h)
	}

	totalHeight := 0.0
	if len(heights) > 0 {
		totalHeight = heights[len(heights)-1]
	}
	deltaHeights := make([]float64, len(heights))
	for i, hgt := range heights {
		deltaHeights[i] = totalHeight - hgt
	}

	// velocities currently descend as t increases (drag slows the
	// rocket); reverse into ascending order so linear interpolation by
	// current velocity is well-defined.
	reverse(velocities)
	reverse(deltaHeights)

	p.velocities = velocities
	p.deltaHeights = deltaHeights
}

func reverse(xs []float64) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}

// predict implements spec.md §4.3 step 6.
func (p *Predictor) predict() float64 {
	if len(p.velocities) < 2 {
		return p.currentAltitude
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(p.velocities, p.deltaHeights); err != nil {
		return p.currentAltitude
	}

	v := p.currentVelocity
	if v < p.velocities[0] {
		v = p.velocities[0]
	}
	if v > p.velocities[len(p.velocities)-1] {
		v = p.velocities[len(p.velocities)-1]
	}

	return p.currentAltitude + pl.Predict(v)
}
