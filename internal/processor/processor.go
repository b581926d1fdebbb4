// Package processor implements the Data Processor component (spec.md §4.2):
// it turns a batch of Estimated IMU packets into zeroed altitude, vertical
// velocity, and world-frame vertical acceleration, maintaining a running
// body-to-world orientation via gyroscope integration.
package processor

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/velocity.report/internal/packets"
)

// DataProcessor holds the running kinematic state described in spec.md
// §4.2's Observable properties list.
type DataProcessor struct {
	gravity         float64
	accelDeadband   float64

	bootstrapped bool

	zeroAltitude float64
	orientation  quat.Number // running world-frame orientation

	lastPacket *packets.EstimatedIMUPacket

	verticalVelocity    float64
	currentAltitude     float64
	maxAltitude         float64
	maxVerticalVelocity float64
	averagePitch        float64
	currentTimestampNs  int64

	sumVerticalAcceleration   float64
	verticalAccelerationCount int64
}

// New creates a DataProcessor. gravity is subtracted before integrating
// velocity; accelDeadband zeroes out small noise per spec.md §4.2 step 4.
func New(gravity, accelDeadband float64) *DataProcessor {
	return &DataProcessor{
		gravity:       gravity,
		accelDeadband: accelDeadband,
		orientation:   quat.Number{Real: 1},
	}
}

// identityQuat is the unrotated reference orientation.
var identityQuat = quat.Number{Real: 1}

// Update implements spec.md §4.2's algorithm. It is idempotent on empty
// input and returns exactly one ProcessorDataPacket per input packet, in
// order.
func (d *DataProcessor) Update(batch []*packets.EstimatedIMUPacket) []packets.ProcessorDataPacket {
	if len(batch) == 0 {
		return nil
	}

	if !d.bootstrapped {
		d.bootstrap(batch)
	}

	out := make([]packets.ProcessorDataPacket, 0, len(batch))

	dts := d.timeDifferences(batch)

	prevVelocity := d.verticalVelocity
	prevAltitude := d.currentAltitude

	for i, p := range batch {
		dt := dts[i]

		worldAccelZ := d.rotateAndTrack(p, dt)

		corrected := worldAccelZ - d.gravity
		if math.Abs(corrected) < d.accelDeadband {
			corrected = 0
		}
		velocity := prevVelocity + corrected*dt
		prevVelocity = velocity
		if velocity > d.maxVerticalVelocity {
			d.maxVerticalVelocity = velocity
		}

		d.sumVerticalAcceleration += worldAccelZ
		d.verticalAccelerationCount++

		altitude := p.EstPressureAlt - d.zeroAltitude
		if altitude > d.maxAltitude {
			d.maxAltitude = altitude
		}

		velocityFromAltitude := 0.0
		if dt > 0 {
			velocityFromAltitude = (altitude - prevAltitude) / dt
		}
		prevAltitude = altitude

		out = append(out, packets.ProcessorDataPacket{
			CurrentAltitude:      altitude,
			VerticalVelocity:     velocity,
			VerticalAcceleration: worldAccelZ,
			TimeSinceLastPacket:  dt,
			PressureAltitude:     p.EstPressureAlt,
			VelocityFromAltitude: velocityFromAltitude,
			FilteredVelocity:     (velocity + velocityFromAltitude) / 2,
		})

		d.currentTimestampNs = p.TimestampNs
	}

	d.verticalVelocity = prevVelocity
	d.currentAltitude = prevAltitude
	d.lastPacket = batch[len(batch)-1]

	return out
}

// bootstrap seeds the zero altitude, reference orientation, and "last
// packet" slot on the first non-empty update, per spec.md §4.2 step 1.
func (d *DataProcessor) bootstrap(batch []*packets.EstimatedIMUPacket) {
	sum := 0.0
	for _, p := range batch {
		sum += p.EstPressureAlt
	}
	d.zeroAltitude = sum / float64(len(batch))

	first := batch[0]
	q := quat.Number{Real: first.OrientQuatW, Imag: first.OrientQuatX, Jmag: first.OrientQuatY, Kmag: first.OrientQuatZ}
	if quat.Abs(q) == 0 {
		q = identityQuat
	}
	d.orientation = normalize(q)

	d.lastPacket = first
	d.bootstrapped = true
}

// timeDifferences computes N deltas in seconds as
// diff([last, p1, ..., pN]) / 1e9, using the previous iteration's last
// packet as the left edge, per spec.md §4.2 step 2.
func (d *DataProcessor) timeDifferences(batch []*packets.EstimatedIMUPacket) []float64 {
	dts := make([]float64, len(batch))
	prevTs := d.lastPacket.TimestampNs
	for i, p := range batch {
		dts[i] = float64(p.TimestampNs-prevTs) / 1e9
		prevTs = p.TimestampNs
	}
	return dts
}

// rotateAndTrack advances the running orientation by the packet's angular
// rate integrated over dt, rotates the packet's compensated acceleration
// into world coordinates, and updates average pitch. Returns the signed
// world-vertical acceleration component (spec.md §4.2 step 3).
func (d *DataProcessor) rotateAndTrack(p *packets.EstimatedIMUPacket, dt float64) float64 {
	delta := rotationFromAngularRate(p.EstAngularRateX, p.EstAngularRateY, p.EstAngularRateZ, dt)
	d.orientation = normalize(quat.Mul(d.orientation, delta))

	worldAccel := rotateVector(d.orientation, [3]float64{p.EstCompensatedAccelX, p.EstCompensatedAccelY, p.EstCompensatedAccelZ})

	worldUp := rotateVector(d.orientation, [3]float64{0, 0, 1})
	dot := worldUp[2] // dot with fixed world-vertical axis (0,0,1)
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	d.averagePitch = math.Acos(dot) * 180 / math.Pi

	return -worldAccel[2]
}

// CurrentAltitude returns the most recently computed zeroed altitude.
func (d *DataProcessor) CurrentAltitude() float64 { return d.currentAltitude }

// MaxAltitude returns the monotonic running maximum altitude.
func (d *DataProcessor) MaxAltitude() float64 { return d.maxAltitude }

// VerticalVelocity returns the most recently computed vertical velocity.
func (d *DataProcessor) VerticalVelocity() float64 { return d.verticalVelocity }

// MaxVerticalVelocity returns the monotonic running maximum velocity.
func (d *DataProcessor) MaxVerticalVelocity() float64 { return d.maxVerticalVelocity }

// AveragePitch returns the most recently computed pitch angle in degrees.
func (d *DataProcessor) AveragePitch() float64 { return d.averagePitch }

// AverageVerticalAcceleration returns the running mean world-frame vertical
// acceleration over every packet processed so far (spec.md §4.2's Observable
// properties list), mirroring MaxVerticalVelocity's running-statistic shape.
func (d *DataProcessor) AverageVerticalAcceleration() float64 {
	if d.verticalAccelerationCount == 0 {
		return 0
	}
	return d.sumVerticalAcceleration / float64(d.verticalAccelerationCount)
}

// CurrentTimestampNs returns the timestamp of the most recently processed
// packet.
func (d *DataProcessor) CurrentTimestampNs() int64 { return d.currentTimestampNs }

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return identityQuat
	}
	return quat.Scale(1/n, q)
}

// rotationFromAngularRate builds the delta rotation quaternion from a
// rotation vector (angular rate * dt), per spec.md §4.2 step 3.
func rotationFromAngularRate(wx, wy, wz, dt float64) quat.Number {
	rx, ry, rz := wx*dt, wy*dt, wz*dt
	angle := math.Sqrt(rx*rx + ry*ry + rz*rz)
	if angle == 0 {
		return identityQuat
	}
	half := angle / 2
	s := math.Sin(half) / angle
	return quat.Number{Real: math.Cos(half), Imag: rx * s, Jmag: ry * s, Kmag: rz * s}
}

// rotateVector rotates v by the (assumed unit) quaternion q: q * v * q^-1.
func rotateVector(q quat.Number, v [3]float64) [3]float64 {
	vq := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}
