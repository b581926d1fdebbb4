// Package flight implements the State Machine + Context component
// (spec.md §4.5): the single control loop that drains IMU packets, drives
// the Data Processor and Apogee Predictor, runs the current flight state,
// commands the Servo, and hands everything to the Logger.
package flight

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/velocity.report/internal/apogee"
	"github.com/banshee-data/velocity.report/internal/config"
	"github.com/banshee-data/velocity.report/internal/fplog"
	"github.com/banshee-data/velocity.report/internal/imu"
	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
	"github.com/banshee-data/velocity.report/internal/processor"
	"github.com/banshee-data/velocity.report/internal/servo"
)

// State is the common contract spec.md §4.5 gives every flight phase.
type State interface {
	Name() packets.ContextState
	// Update runs this state's per-iteration logic (including the Coast
	// control law) against the freshly updated Context.
	Update(ctx *Context)
	// NextState returns the state to transition to if this iteration's
	// trigger condition was met, or the receiver itself otherwise. Forward
	// only: Standby -> MotorBurn -> Coast -> FreeFall -> Landed.
	NextState(ctx *Context) State
}

// Context owns exclusive mutable access to the State, the Data Processor,
// the most recent Apogee Predictor packet, and the current iteration's
// batch, per spec.md §3's invariant. Background components own their own
// queues and worker loops; Context holds only producer/consumer endpoints.
type Context struct {
	IMU       imu.Source
	Processor *processor.DataProcessor
	Predictor *apogee.Predictor
	Servo     *servo.Servo
	Logger    *fplog.Logger
	Camera    Camera
	Config    *config.FlightConfig

	state State

	lastApogee  packets.ApogeePredictorDataPacket
	haveApogee  bool
	lastProcPkt packets.ProcessorDataPacket

	extended bool

	motorBurnStartNs      int64
	maxVelocityDuringBurn float64
	freeFallStartNs       int64

	shutdownRequested atomic.Bool
	cancel            context.CancelFunc
	stopOnce          sync.Once
	runWg             sync.WaitGroup
}

// New constructs a Context in Standby with the given components already
// wired together. Start derives the cancellable context that Stop cancels.
func New(src imu.Source, proc *processor.DataProcessor, pred *apogee.Predictor, sv *servo.Servo, logger *fplog.Logger, cam Camera, cfg *config.FlightConfig) *Context {
	ctx := &Context{
		IMU:       src,
		Processor: proc,
		Predictor: pred,
		Servo:     sv,
		Logger:    logger,
		Camera:    cam,
		Config:    cfg,
	}
	ctx.state = NewStandbyState(ctx)
	return ctx
}

// State returns the current flight state, for tests and the admin surface.
func (c *Context) State() State { return c.state }

// ShutdownRequested reports whether Landed has asked the owner to stop.
func (c *Context) ShutdownRequested() bool { return c.shutdownRequested.Load() }

// LastApogee returns the most recently cached Apogee Predictor packet, and
// whether one has arrived yet.
func (c *Context) LastApogee() (packets.ApogeePredictorDataPacket, bool) {
	return c.lastApogee, c.haveApogee
}

// Start raises process priority, then starts IMU, Logger, Apogee Predictor,
// and Camera in that order, per spec.md §4.5.
func (c *Context) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	raisePriority()

	if err := c.IMU.Start(runCtx); err != nil {
		return err
	}
	if err := c.Logger.Start(runCtx); err != nil {
		return err
	}
	if err := c.Predictor.Start(runCtx); err != nil {
		return err
	}
	if err := c.Camera.Start(runCtx); err != nil {
		return err
	}
	return nil
}

// Stop retracts the airbrakes, then stops each subsystem once. A second
// call is a no-op.
func (c *Context) Stop() {
	c.stopOnce.Do(func() {
		c.Servo.SetRetracted()
		if c.cancel != nil {
			c.cancel()
		}
		if err := c.IMU.Stop(); err != nil {
			monitoring.Logf("flight: imu stop: %v", err)
		}
		if err := c.Predictor.Stop(); err != nil {
			monitoring.Logf("flight: predictor stop: %v", err)
		}
		if err := c.Logger.Stop(); err != nil {
			monitoring.Logf("flight: logger stop: %v", err)
		}
		if err := c.Camera.Stop(); err != nil {
			monitoring.Logf("flight: camera stop: %v", err)
		}
		if err := c.Servo.Close(); err != nil {
			monitoring.Logf("flight: servo close: %v", err)
		}
	})
}

// Update runs exactly one iteration of the main control loop, implementing
// the eight steps in spec.md §4.5.
func (c *Context) Update() {
	// Step 1: drain a batch of IMU packets with a bounded blocking wait.
	batch := c.IMU.GetMany(true, c.Config.GetMaxQueueSize())
	if len(batch) == 0 {
		return
	}

	// Step 2: partition preserving order.
	estimated := make([]*packets.EstimatedIMUPacket, 0, len(batch))
	for _, p := range batch {
		if p.Estimated != nil {
			estimated = append(estimated, p.Estimated)
		}
	}

	// Step 3: feed the Data Processor.
	procBatch := c.Processor.Update(estimated)
	if len(procBatch) > 0 {
		c.lastProcPkt = procBatch[len(procBatch)-1]
	}

	// Step 4: drain Apogee Predictor packets; cache the most recent.
	apogeeBatch := c.Predictor.GetPredictionDataPackets()
	if len(apogeeBatch) > 0 {
		c.lastApogee = apogeeBatch[len(apogeeBatch)-1]
		c.haveApogee = true
	}

	// Step 5: run the current state.
	c.state.Update(c)
	next := c.state.NextState(c)
	if next != c.state {
		c.state = next
	}

	// Step 6: forward Processor packets to the Predictor, only in Coast,
	// and only when this batch actually contained estimated packets.
	if c.state.Name() == packets.StateCoast && len(procBatch) > 0 {
		c.Predictor.Update(procBatch)
	}

	// Step 7: build Context and Servo Data Packets.
	ctxPkt := packets.ContextDataPacket{
		State:                    c.state.Name(),
		FetchedPacketsInMain:     len(batch),
		IMUQueueSize:             c.IMU.QueueSize(),
		ApogeePredictorQueueSize: c.Predictor.QueueSize(),
		FetchedIMUPackets:        c.IMU.PacketsPerCycle(),
		UpdateTimestampNs:        time.Now().UnixNano(),
	}
	servoPkt := c.Servo.DataPacket()

	// Step 8: submit everything to the Logger in one call.
	c.Logger.Log(ctxPkt, servoPkt, batch, procBatch, apogeeBatch)
}

// Run drives Update in a loop until ShutdownRequested or ctx is cancelled.
// This is the CLI's main task per spec.md §5: it must never block longer
// than the IMU timeout, which GetMany already guarantees.
func (c *Context) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.ShutdownRequested() {
			return
		}
		c.Update()
	}
}
