// Package packets defines the data model flowing between the IMU Source,
// Data Processor, Apogee Predictor, Servo Actuator, State Machine, and
// Logger components of the flight controller.
package packets

// Descriptor sets recognized on the wire, matching the sensor's two
// reporting modes. Values mirror the original MSCL descriptor-set bytes.
const (
	DescriptorSetRaw       = 0x80 // 128: raw-inertial
	DescriptorSetEstimated = 0x82 // 130: filter-estimated
)

// RawIMUPacket carries the sensor's raw-inertial channel. All measurement
// fields are optional: a field absent from a given sensor frame is left at
// its zero value and its name does not appear in InvalidFields unless the
// sensor explicitly flagged it.
type RawIMUPacket struct {
	TimestampNs int64 // nanoseconds since sensor epoch

	ScaledAccelX, ScaledAccelY, ScaledAccelZ float64 // g
	ScaledGyroX, ScaledGyroY, ScaledGyroZ    float64 // rad/s
	DeltaVelX, DeltaVelY, DeltaVelZ          float64 // g·s
	DeltaThetaX, DeltaThetaY, DeltaThetaZ    float64 // rad
	ScaledAmbientPressure                    float64 // mbar

	HasScaledAccel, HasScaledGyro   bool
	HasDeltaVelocity, HasDeltaTheta bool
	HasAmbientPressure              bool

	InvalidFields []string
}

// EstimatedIMUPacket carries the sensor's filter-estimated channel: the
// output of its onboard orientation/position filter.
type EstimatedIMUPacket struct {
	TimestampNs int64 // nanoseconds since sensor epoch

	EstPressureAlt float64 // m

	OrientQuatW, OrientQuatX, OrientQuatY, OrientQuatZ         float64
	OrientUncertQuatW, OrientUncertQuatX, OrientUncertQuatY, OrientUncertQuatZ float64

	EstAngularRateX, EstAngularRateY, EstAngularRateZ float64 // rad/s

	EstCompensatedAccelX, EstCompensatedAccelY, EstCompensatedAccelZ float64 // m/s^2, includes gravity
	EstLinearAccelX, EstLinearAccelY, EstLinearAccelZ                float64 // m/s^2, gravity removed
	EstGravityVectorX, EstGravityVectorY, EstGravityVectorZ          float64 // m/s^2

	HasPressureAlt          bool
	HasOrientation           bool
	HasOrientationUncertainty bool
	HasAngularRate           bool
	HasCompensatedAccel      bool
	HasLinearAccel           bool
	HasGravityVector         bool

	InvalidFields []string
}

// ProcessorDataPacket is produced once per EstimatedIMUPacket fed to the
// Data Processor. PressureAltitude, VelocityFromAltitude, and
// FilteredVelocity are supplemented fields (SPEC_FULL.md §C) carried as a
// diagnostic cross-check against the quaternion-integrated values; they are
// not required by any control-law decision.
type ProcessorDataPacket struct {
	CurrentAltitude        float64 // m, zeroed to first-batch mean
	VerticalVelocity       float64 // m/s, integrated
	VerticalAcceleration   float64 // m/s^2, world frame
	TimeSinceLastPacket    float64 // s

	PressureAltitude      float64 // m, raw estPressureAlt (supplemented)
	VelocityFromAltitude  float64 // m/s, finite-difference of altitude (supplemented)
	FilteredVelocity      float64 // m/s, smoothed vertical velocity (supplemented)
}

// ApogeePredictorDataPacket is emitted once per predictor cycle.
type ApogeePredictorDataPacket struct {
	PredictedApogee     float64
	ACoefficient        float64
	BCoefficient        float64
	UncertaintyThreshold1 float64
	UncertaintyThreshold2 float64
}

// FirstApogeePredictionPacket is the record shape for the cycle a fit first
// converges (supplemented, SPEC_FULL.md §C). No component in this
// repository constructs or emits it.
type FirstApogeePredictionPacket struct {
	ApogeePredictorDataPacket
	ConvergedAtTimestampNs int64
}

// ContextState is the one-letter flight-phase code used throughout logging
// and the control law.
type ContextState byte

const (
	StateStandby   ContextState = 'S'
	StateMotorBurn ContextState = 'M'
	StateCoast     ContextState = 'C'
	StateFreeFall  ContextState = 'F'
	StateLanded    ContextState = 'L'
)

func (s ContextState) String() string { return string(rune(s)) }

// ContextDataPacket summarizes one Context.Update iteration.
type ContextDataPacket struct {
	State                    ContextState
	FetchedPacketsInMain     int
	IMUQueueSize             int
	ApogeePredictorQueueSize int
	FetchedIMUPackets        int
	UpdateTimestampNs        int64
}

// ServoExtension enumerates the four discrete positions the actuator may
// hold.
type ServoExtension int

const (
	ExtensionMinExtension ServoExtension = iota
	ExtensionMinNoBuzz
	ExtensionMaxExtension
	ExtensionMaxNoBuzz
)

func (e ServoExtension) String() string {
	switch e {
	case ExtensionMinExtension:
		return "MIN_EXTENSION"
	case ExtensionMinNoBuzz:
		return "MIN_NO_BUZZ"
	case ExtensionMaxExtension:
		return "MAX_EXTENSION"
	case ExtensionMaxNoBuzz:
		return "MAX_NO_BUZZ"
	default:
		return "UNKNOWN"
	}
}

// ServoDataPacket reports the actuator's observable state.
type ServoDataPacket struct {
	SetExtension   ServoExtension
	EncoderPosition int
}

// LoggerDataPacket is one wide, mostly-optional CSV row. Exactly one is
// produced per IMU packet per Context iteration.
type LoggerDataPacket struct {
	State              ContextState
	Extension          ServoExtension
	EncoderPosition    int

	FetchedPacketsInMain     int
	IMUQueueSize             int
	ApogeePredictorQueueSize int
	FetchedIMUPackets        int
	UpdateTimestampNs        int64

	IMUTimestampNs int64

	// Raw IMU fields (only populated for a raw-variant row).
	ScaledAccelX, ScaledAccelY, ScaledAccelZ float64
	ScaledGyroX, ScaledGyroY, ScaledGyroZ    float64
	DeltaVelX, DeltaVelY, DeltaVelZ          float64
	DeltaThetaX, DeltaThetaY, DeltaThetaZ    float64
	ScaledAmbientPressure                    float64
	IsRaw                                    bool

	// Estimated IMU fields (only populated for an estimated-variant row).
	EstPressureAlt                                  float64
	OrientQuatW, OrientQuatX, OrientQuatY, OrientQuatZ float64
	EstAngularRateX, EstAngularRateY, EstAngularRateZ  float64
	EstCompensatedAccelX, EstCompensatedAccelY, EstCompensatedAccelZ float64
	EstGravityVectorX, EstGravityVectorY, EstGravityVectorZ          float64
	IsEstimated                                                      bool

	// Processor fields, populated only on estimated rows.
	CurrentAltitude      float64
	VerticalVelocity     float64
	VerticalAcceleration float64
	HasProcessor         bool

	// Apogee fields, popped from the front of the per-iteration apogee
	// list until exhausted; zero value + HasApogee=false otherwise.
	PredictedApogee float64
	ACoefficient    float64
	BCoefficient    float64
	HasApogee       bool

	InvalidFields string // comma-joined
}

// FieldOrder is the declared, fixed CSV column order for LoggerDataPacket.
// It is the external on-disk contract (spec.md §6 "Log file format").
var FieldOrder = []string{
	"state", "extension", "encoder_position",
	"fetched_packets_in_main", "imu_queue_size", "apogee_predictor_queue_size",
	"fetched_imu_packets", "update_timestamp_ns",
	"imu_timestamp_ns",
	"scaled_accel_x", "scaled_accel_y", "scaled_accel_z",
	"scaled_gyro_x", "scaled_gyro_y", "scaled_gyro_z",
	"delta_vel_x", "delta_vel_y", "delta_vel_z",
	"delta_theta_x", "delta_theta_y", "delta_theta_z",
	"scaled_ambient_pressure",
	"est_pressure_alt",
	"orient_quat_w", "orient_quat_x", "orient_quat_y", "orient_quat_z",
	"est_angular_rate_x", "est_angular_rate_y", "est_angular_rate_z",
	"est_compensated_accel_x", "est_compensated_accel_y", "est_compensated_accel_z",
	"est_gravity_vector_x", "est_gravity_vector_y", "est_gravity_vector_z",
	"current_altitude", "vertical_velocity", "vertical_acceleration",
	"predicted_apogee", "a_coefficient", "b_coefficient",
	"invalid_fields",
}
