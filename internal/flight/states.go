package flight

import (
	"math"
	"time"

	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
)

// StandbyState is the initial state: the rocket is on the pad.
type StandbyState struct{}

// NewStandbyState retracts the airbrakes (the safety default for entering
// any state) and returns a StandbyState.
func NewStandbyState(ctx *Context) *StandbyState {
	ctx.Servo.SetRetracted()
	return &StandbyState{}
}

func (s *StandbyState) Name() packets.ContextState { return packets.StateStandby }

func (s *StandbyState) Update(ctx *Context) {}

func (s *StandbyState) NextState(ctx *Context) State {
	v := ctx.Processor.VerticalVelocity()
	alt := ctx.Processor.CurrentAltitude()
	if v > ctx.Config.GetTakeoffVelocityMPS() || alt > ctx.Config.GetTakeoffHeightM() {
		return NewMotorBurnState(ctx)
	}
	return s
}

// MotorBurnState covers powered ascent.
type MotorBurnState struct{}

// NewMotorBurnState retracts the airbrakes, records the burn start time,
// and signals the camera to begin recording, per spec.md §4.5.
func NewMotorBurnState(ctx *Context) *MotorBurnState {
	ctx.Servo.SetRetracted()
	ctx.motorBurnStartNs = ctx.Processor.CurrentTimestampNs()
	ctx.maxVelocityDuringBurn = ctx.Processor.VerticalVelocity()
	if err := ctx.Camera.BeginRecording(); err != nil {
		monitoring.Logf("flight: camera begin recording: %v", err)
	}
	return &MotorBurnState{}
}

func (s *MotorBurnState) Name() packets.ContextState { return packets.StateMotorBurn }

func (s *MotorBurnState) Update(ctx *Context) {
	if v := ctx.Processor.VerticalVelocity(); v > ctx.maxVelocityDuringBurn {
		ctx.maxVelocityDuringBurn = v
	}
}

func (s *MotorBurnState) NextState(ctx *Context) State {
	v := ctx.Processor.VerticalVelocity()
	stoppedAccelerating := v < ctx.maxVelocityDuringBurn*(1-ctx.Config.GetMaxVelocityThreshold())

	elapsed := time.Duration(ctx.Processor.CurrentTimestampNs()-ctx.motorBurnStartNs) * time.Nanosecond
	timedOut := elapsed >= ctx.Config.GetMotorBurnTimeSeconds()

	if stoppedAccelerating || timedOut {
		return NewCoastState(ctx)
	}
	return s
}

// CoastState is the only state that runs the airbrake control law.
type CoastState struct {
	prevAltitude float64
	haveAltitude bool
}

// NewCoastState retracts the airbrakes on entry.
func NewCoastState(ctx *Context) *CoastState {
	ctx.Servo.SetRetracted()
	ctx.extended = false
	return &CoastState{}
}

func (s *CoastState) Name() packets.ContextState { return packets.StateCoast }

// Update runs the control law from spec.md §4.5: compare the latest Apogee
// Predictor prediction to the target altitude and extend/retract exactly
// once on each threshold crossing.
func (s *CoastState) Update(ctx *Context) {
	if !ctx.haveApogee {
		return
	}

	target := ctx.Config.GetTargetAltitudeMeters()
	predicted := ctx.lastApogee.PredictedApogee

	if predicted > target && !ctx.extended {
		if err := ctx.Servo.SetExtended(); err != nil {
			monitoring.Logf("flight: servo extend: %v", err)
			return
		}
		ctx.extended = true
	} else if predicted <= target && ctx.extended {
		if err := ctx.Servo.SetRetracted(); err != nil {
			monitoring.Logf("flight: servo retract: %v", err)
			return
		}
		ctx.extended = false
	}
}

func (s *CoastState) NextState(ctx *Context) State {
	maxAlt := ctx.Processor.MaxAltitude()
	curAlt := ctx.Processor.CurrentAltitude()

	if !s.haveAltitude {
		s.prevAltitude = curAlt
		s.haveAltitude = true
	}
	decreasing := curAlt < s.prevAltitude-0.5 // meaningful decrease, not sensor noise
	s.prevAltitude = curAlt

	if maxAlt-curAlt > ctx.Config.GetDistanceFromApogeeM() || decreasing {
		return NewFreeFallState(ctx)
	}
	return s
}

// FreeFallState covers descent under drag (and, eventually, the main
// parachute) until touchdown.
type FreeFallState struct{}

// NewFreeFallState retracts the airbrakes and records the entry time.
func NewFreeFallState(ctx *Context) *FreeFallState {
	ctx.Servo.SetRetracted()
	ctx.extended = false
	ctx.freeFallStartNs = ctx.Processor.CurrentTimestampNs()
	return &FreeFallState{}
}

func (s *FreeFallState) Name() packets.ContextState { return packets.StateFreeFall }

func (s *FreeFallState) Update(ctx *Context) {}

func (s *FreeFallState) NextState(ctx *Context) State {
	curAlt := ctx.Processor.CurrentAltitude()
	accel := ctx.lastProcPkt.VerticalAcceleration

	landingSignature := math.Abs(accel) < ctx.Config.GetLandingAccelWindowG()*ctx.Config.GetGravityMPS2()
	landed := curAlt <= ctx.Config.GetGroundAltitudeM() && landingSignature

	elapsed := time.Duration(ctx.Processor.CurrentTimestampNs()-ctx.freeFallStartNs) * time.Nanosecond
	deadMan := elapsed >= ctx.Config.GetMaxFreeFallSeconds()

	if landed || deadMan {
		return NewLandedState(ctx)
	}
	return s
}

// LandedState is terminal: it waits for the Logger to drain, then asks the
// owner to shut the Context down.
type LandedState struct{}

// NewLandedState retracts the airbrakes on entry.
func NewLandedState(ctx *Context) *LandedState {
	ctx.Servo.SetRetracted()
	return &LandedState{}
}

func (s *LandedState) Name() packets.ContextState { return packets.StateLanded }

func (s *LandedState) Update(ctx *Context) {
	if ctx.Logger.QueueDrained() {
		ctx.shutdownRequested.Store(true)
	}
}

// NextState is a no-op: Landed is terminal.
func (s *LandedState) NextState(ctx *Context) State { return s }
