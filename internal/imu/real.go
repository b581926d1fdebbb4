package imu

import (
	"context"
	"time"

	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
	"go.bug.st/serial"
)

// DataPoint is one (field, value) reading off the sensor's wire frame. The
// wire protocol itself is a Non-goal (spec.md §1); this struct is the
// minimal shape needed to run the field-assignment algorithm of §4.1,
// grounded on original_source/airbrakes/hardware/imu.py's
// field_name/qualifier dispatch (e.g. field 0x8007 qualifier 1..3 ->
// deltaTheta X/Y/Z, field 0x8004 -> scaledAccel, field 0x821c ->
// estCompensatedAccel, field 0x8213 -> estGravityVector).
type DataPoint struct {
	DescriptorSet byte
	FieldID       uint16
	Qualifier     int
	Value         float64
	Valid         bool
	ChannelName   string
}

// Frame is one sensor read: a timestamp and all data points reported in it.
type Frame struct {
	DescriptorSet byte
	TimestampNs   int64
	DataPoints    []DataPoint
}

// SensorLink abstracts the physical IMU connection. RealSource drives it
// over go.bug.st/serial; tests substitute a fake.
type SensorLink interface {
	// ReadFrames requests the next batch of frames with a short timeout,
	// mirroring MSCL's getDataPackets(timeout). Returns an empty slice
	// (not an error) on timeout with nothing available.
	ReadFrames(timeout time.Duration) ([]Frame, error)
	Close() error
}

const (
	fieldDeltaTheta          uint16 = 0x8007
	fieldScaledAccel         uint16 = 0x8004
	fieldScaledGyro          uint16 = 0x8005
	fieldDeltaVelocity       uint16 = 0x8006
	fieldScaledAmbientPress  uint16 = 0x8010
	fieldEstPressureAlt      uint16 = 0x8203
	fieldEstOrientQuat       uint16 = 0x8212
	fieldEstOrientUncertQuat uint16 = 0x8214
	fieldEstAngularRate      uint16 = 0x8211
	fieldEstCompensatedAccel uint16 = 0x821C
	fieldEstLinearAccel      uint16 = 0x8216
	fieldEstGravityVector    uint16 = 0x8213
)

// RealSource polls a SensorLink in a background goroutine and enqueues
// decoded packets, following serialmux.Monitor's outer-select-over-
// ctx.Done()/inner-goroutine-blocking-read shape.
type RealSource struct {
	*queueWorker
	link SensorLink
}

// NewRealSource creates a Source backed by a live sensor link.
func NewRealSource(link SensorLink, queueCapacity int, sensorTimeout time.Duration) *RealSource {
	return &RealSource{
		queueWorker: newQueueWorker(queueCapacity, sensorTimeout),
		link:        link,
	}
}

// OpenSerialLink opens a go.bug.st/serial connection at path. This is the
// concrete SensorLink construction step left to the caller (cmd/airbrakes)
// so RealSource itself stays testable against a fake SensorLink.
func OpenSerialLink(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

func (s *RealSource) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			frames, err := s.link.ReadFrames(s.timeout)
			if err != nil {
				monitoring.Logf("imu: sensor read error: %v", err)
				continue
			}
			if len(frames) == 0 {
				continue
			}

			pkts := make([]Packet, 0, len(frames))
			for _, f := range frames {
				pkts = append(pkts, decodeFrame(f))
			}
			s.enqueue(pkts)
		}
	}()
	return nil
}

func (s *RealSource) Stop() error {
	err := s.stop(5 * time.Second)
	if closeErr := s.link.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// decodeFrame assigns a frame's data points into the appropriate packet
// variant by descriptor set, then by (field-id, qualifier), following
// original_source/airbrakes/hardware/imu.py's dispatch.
func decodeFrame(f Frame) Packet {
	if f.DescriptorSet == packets.DescriptorSetRaw {
		p := &packets.RawIMUPacket{TimestampNs: f.TimestampNs}
		for _, dp := range f.DataPoints {
			if !dp.Valid {
				p.InvalidFields = append(p.InvalidFields, dp.ChannelName)
				continue
			}
			assignRawField(p, dp)
		}
		return Packet{Raw: p}
	}

	p := &packets.EstimatedIMUPacket{TimestampNs: f.TimestampNs}
	for _, dp := range f.DataPoints {
		if !dp.Valid {
			p.InvalidFields = append(p.InvalidFields, dp.ChannelName)
			continue
		}
		assignEstimatedField(p, dp)
	}
	return Packet{Estimated: p}
}

func assignRawField(p *packets.RawIMUPacket, dp DataPoint) {
	switch dp.FieldID {
	case fieldScaledAccel:
		setAxis(&p.ScaledAccelX, &p.ScaledAccelY, &p.ScaledAccelZ, dp.Qualifier, dp.Value)
		p.HasScaledAccel = true
	case fieldScaledGyro:
		setAxis(&p.ScaledGyroX, &p.ScaledGyroY, &p.ScaledGyroZ, dp.Qualifier, dp.Value)
		p.HasScaledGyro = true
	case fieldDeltaVelocity:
		setAxis(&p.DeltaVelX, &p.DeltaVelY, &p.DeltaVelZ, dp.Qualifier, dp.Value)
		p.HasDeltaVelocity = true
	case fieldDeltaTheta:
		setAxis(&p.DeltaThetaX, &p.DeltaThetaY, &p.DeltaThetaZ, dp.Qualifier, dp.Value)
		p.HasDeltaTheta = true
	case fieldScaledAmbientPress:
		p.ScaledAmbientPressure = dp.Value
		p.HasAmbientPressure = true
	}
}

func assignEstimatedField(p *packets.EstimatedIMUPacket, dp DataPoint) {
	switch dp.FieldID {
	case fieldEstPressureAlt:
		p.EstPressureAlt = dp.Value
		p.HasPressureAlt = true
	case fieldEstOrientQuat:
		setQuat(&p.OrientQuatW, &p.OrientQuatX, &p.OrientQuatY, &p.OrientQuatZ, dp.Qualifier, dp.Value)
		p.HasOrientation = true
	case fieldEstOrientUncertQuat:
		setQuat(&p.OrientUncertQuatW, &p.OrientUncertQuatX, &p.OrientUncertQuatY, &p.OrientUncertQuatZ, dp.Qualifier, dp.Value)
		p.HasOrientationUncertainty = true
	case fieldEstAngularRate:
		setAxis(&p.EstAngularRateX, &p.EstAngularRateY, &p.EstAngularRateZ, dp.Qualifier, dp.Value)
		p.HasAngularRate = true
	case fieldEstCompensatedAccel:
		setAxis(&p.EstCompensatedAccelX, &p.EstCompensatedAccelY, &p.EstCompensatedAccelZ, dp.Qualifier, dp.Value)
		p.HasCompensatedAccel = true
	case fieldEstLinearAccel:
		setAxis(&p.EstLinearAccelX, &p.EstLinearAccelY, &p.EstLinearAccelZ, dp.Qualifier, dp.Value)
		p.HasLinearAccel = true
	case fieldEstGravityVector:
		setAxis(&p.EstGravityVectorX, &p.EstGravityVectorY, &p.EstGravityVectorZ, dp.Qualifier, dp.Value)
		p.HasGravityVector = true
	}
}

func setAxis(x, y, z *float64, qualifier int, value float64) {
	switch qualifier {
	case 1:
		*x = value
	case 2:
		*y = value
	case 3:
		*z = value
	}
}

// setQuat assigns qualifiers 1..4 as w,x,y,z, matching
// R.from_quat(..., scalar_first=True) in original_source/telemetry/data_processor.py.
func setQuat(w, x, y, z *float64, qualifier int, value float64) {
	switch qualifier {
	case 1:
		*w = value
	case 2:
		*x = value
	case 3:
		*y = value
	case 4:
		*z = value
	}
}
