// Package servo implements the Servo Actuator component (spec.md §4.4): a
// two-phase extend/retract transition that reaches full travel, then backs
// off to a silent holding position once the mechanism has had time to
// reach its mechanical stop.
package servo

import (
	"sync"
	"time"

	"github.com/banshee-data/velocity.report/internal/packets"
)

// Actuator is the hardware (or mock) backend a Servo drives. Implementations
// need only report the position they were last commanded to and an encoder
// reading; the two-phase timing logic lives in Servo itself so every backend
// gets it for free.
type Actuator interface {
	SetPosition(packets.ServoExtension) error
	EncoderPosition() int
	Close() error
}

// Servo owns the commanded extension and the pending "silence" timer,
// matching the ownership rule in spec.md §3: "only the Context may request
// extend/retract."
type Servo struct {
	act   Actuator
	delay time.Duration

	mu        sync.Mutex
	extension packets.ServoExtension
	timer     *time.Timer
}

// New creates a Servo driving act, silencing buzz delay seconds after
// reaching full travel.
func New(act Actuator, delay time.Duration) *Servo {
	return &Servo{
		act:       act,
		delay:     delay,
		extension: packets.ExtensionMinNoBuzz,
	}
}

// SetExtended moves to MAX_EXTENSION immediately and schedules a one-shot
// timer to settle at MAX_NO_BUZZ. Safe to call repeatedly; a pending
// retract (or extend) timer is always cancelled first.
func (s *Servo) SetExtended() error {
	return s.transition(packets.ExtensionMaxExtension, packets.ExtensionMaxNoBuzz)
}

// SetRetracted is the symmetric counterpart of SetExtended.
func (s *Servo) SetRetracted() error {
	return s.transition(packets.ExtensionMinExtension, packets.ExtensionMinNoBuzz)
}

func (s *Servo) transition(immediate, settled packets.ServoExtension) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if err := s.act.SetPosition(immediate); err != nil {
		return err
	}
	s.extension = immediate

	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A newer transition may have already replaced this timer and
		// fired its own; only settle if we're still the active one.
		if s.extension != immediate {
			return
		}
		if err := s.act.SetPosition(settled); err == nil {
			s.extension = settled
		}
	})
	return nil
}

// Actuator returns the backend this Servo drives, so callers that know the
// concrete type (e.g. the admin HTTP surface checking for a serial-link
// diagnostics page) can type-assert it without Servo itself depending on
// any particular backend.
func (s *Servo) Actuator() Actuator { return s.act }

// CurrentExtension reports the last commanded (possibly settled) position.
func (s *Servo) CurrentExtension() packets.ServoExtension {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extension
}

// GetEncoderReading returns the integer step count from the rotary encoder.
func (s *Servo) GetEncoderReading() int {
	return s.act.EncoderPosition()
}

// DataPacket builds the observable Servo Data Packet for this iteration.
func (s *Servo) DataPacket() packets.ServoDataPacket {
	return packets.ServoDataPacket{
		SetExtension:    s.CurrentExtension(),
		EncoderPosition: s.GetEncoderReading(),
	}
}

// Close cancels any pending timer and releases the backing actuator.
func (s *Servo) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.act.Close()
}
