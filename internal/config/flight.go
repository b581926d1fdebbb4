package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultFlightConfigPath is the canonical tuning defaults file for a
// flight, analogous to the teacher's DefaultConfigPath for lidar tuning.
const DefaultFlightConfigPath = "config/flight.defaults.json"

// FlightConfig holds every tunable named in the specification. Every field
// is a pointer so a partial JSON override file only touches the values it
// names; Get* accessors fall back to the nominal defaults from
// original_source/constants.py and spec.md's stated nominal values.
type FlightConfig struct {
	TargetAltitudeMeters *float64 `json:"target_altitude_meters,omitempty"`

	TakeoffVelocityMPS *float64 `json:"takeoff_velocity_mps,omitempty"`
	TakeoffHeightM     *float64 `json:"takeoff_height_m,omitempty"`

	MaxVelocityThreshold *float64 `json:"max_velocity_threshold,omitempty"`
	MotorBurnTimeSeconds *float64 `json:"motor_burn_time_seconds,omitempty"`

	DistanceFromApogeeM *float64 `json:"distance_from_apogee_m,omitempty"`

	GroundAltitudeM        *float64 `json:"ground_altitude_m,omitempty"`
	MaxFreeFallSeconds     *float64 `json:"max_free_fall_seconds,omitempty"`
	LandingAccelWindowG    *float64 `json:"landing_accel_window_g,omitempty"`

	ServoDelaySeconds *float64 `json:"servo_delay_seconds,omitempty"`

	AccelDeadbandMPS2 *float64 `json:"accel_deadband_mps2,omitempty"`
	GravityMPS2       *float64 `json:"gravity_mps2,omitempty"`

	ApogeePredictionMinPackets *int     `json:"apogee_prediction_min_packets,omitempty"`
	CurveFitInitialA           *float64 `json:"curve_fit_initial_a,omitempty"`
	CurveFitInitialB           *float64 `json:"curve_fit_initial_b,omitempty"`
	CurveFitMaxIterations      *int     `json:"curve_fit_max_iterations,omitempty"`
	UncertaintyThreshold1      *float64 `json:"uncertainty_threshold_1,omitempty"`
	UncertaintyThreshold2      *float64 `json:"uncertainty_threshold_2,omitempty"`
	FlightLengthSeconds        *float64 `json:"flight_length_seconds,omitempty"`
	IntegrationTimeStepSeconds *float64 `json:"integration_time_step_seconds,omitempty"`
	FixInitialVelocityAtFirstFit *bool  `json:"fix_initial_velocity_at_first_fit,omitempty"`

	IdleLogCapacity                    *int `json:"idle_log_capacity,omitempty"`
	LogBufferSize                      *int `json:"log_buffer_size,omitempty"`
	NumberOfLinesToLogBeforeFlushing   *int `json:"number_of_lines_to_log_before_flushing,omitempty"`

	IMUTimeoutSeconds *float64 `json:"imu_timeout_seconds,omitempty"`
	MaxQueueSize      *int     `json:"max_queue_size,omitempty"`
}

// EmptyFlightConfig returns a FlightConfig with all fields nil; Get*
// accessors then report the nominal defaults.
func EmptyFlightConfig() *FlightConfig { return &FlightConfig{} }

// LoadFlightConfig loads overrides from a JSON file, validating the
// extension and a 1MB size ceiling exactly as the teacher's
// LoadTuningConfig does.
func LoadFlightConfig(path string) (*FlightConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFlightConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values that can be checked without a
// full flight context.
func (c *FlightConfig) Validate() error {
	if c.TargetAltitudeMeters != nil && *c.TargetAltitudeMeters <= 0 {
		return fmt.Errorf("target_altitude_meters must be positive, got %f", *c.TargetAltitudeMeters)
	}
	if c.ApogeePredictionMinPackets != nil && *c.ApogeePredictionMinPackets < 1 {
		return fmt.Errorf("apogee_prediction_min_packets must be >= 1, got %d", *c.ApogeePredictionMinPackets)
	}
	if c.MaxQueueSize != nil && *c.MaxQueueSize < 1 {
		return fmt.Errorf("max_queue_size must be >= 1, got %d", *c.MaxQueueSize)
	}
	return nil
}

func (c *FlightConfig) GetTargetAltitudeMeters() float64 {
	if c.TargetAltitudeMeters == nil {
		return 1554 // original_source constants.py TARGET_ALTITUDE
	}
	return *c.TargetAltitudeMeters
}

func (c *FlightConfig) GetTakeoffVelocityMPS() float64 {
	if c.TakeoffVelocityMPS == nil {
		return 10
	}
	return *c.TakeoffVelocityMPS
}

func (c *FlightConfig) GetTakeoffHeightM() float64 {
	if c.TakeoffHeightM == nil {
		return 10
	}
	return *c.TakeoffHeightM
}

func (c *FlightConfig) GetMaxVelocityThreshold() float64 {
	if c.MaxVelocityThreshold == nil {
		return 0.05
	}
	return *c.MaxVelocityThreshold
}

func (c *FlightConfig) GetMotorBurnTimeSeconds() time.Duration {
	if c.MotorBurnTimeSeconds == nil {
		return time.Duration(2.3 * float64(time.Second))
	}
	return time.Duration(*c.MotorBurnTimeSeconds * float64(time.Second))
}

func (c *FlightConfig) GetDistanceFromApogeeM() float64 {
	if c.DistanceFromApogeeM == nil {
		return 250
	}
	return *c.DistanceFromApogeeM
}

func (c *FlightConfig) GetGroundAltitudeM() float64 {
	if c.GroundAltitudeM == nil {
		return 15.0
	}
	return *c.GroundAltitudeM
}

func (c *FlightConfig) GetMaxFreeFallSeconds() time.Duration {
	if c.MaxFreeFallSeconds == nil {
		return 60 * time.Second
	}
	return time.Duration(*c.MaxFreeFallSeconds * float64(time.Second))
}

func (c *FlightConfig) GetLandingAccelWindowG() float64 {
	if c.LandingAccelWindowG == nil {
		return 0.3
	}
	return *c.LandingAccelWindowG
}

func (c *FlightConfig) GetServoDelaySeconds() time.Duration {
	if c.ServoDelaySeconds == nil {
		return 2 * time.Second
	}
	return time.Duration(*c.ServoDelaySeconds * float64(time.Second))
}

func (c *FlightConfig) GetAccelDeadbandMPS2() float64 {
	if c.AccelDeadbandMPS2 == nil {
		return 0.3
	}
	return *c.AccelDeadbandMPS2
}

func (c *FlightConfig) GetGravityMPS2() float64 {
	if c.GravityMPS2 == nil {
		return 9.798
	}
	return *c.GravityMPS2
}

func (c *FlightConfig) GetApogeePredictionMinPackets() int {
	if c.ApogeePredictionMinPackets == nil {
		return 50
	}
	return *c.ApogeePredictionMinPackets
}

func (c *FlightConfig) GetCurveFitInitial() (a, b float64) {
	a, b = 60, 0.01
	if c.CurveFitInitialA != nil {
		a = *c.CurveFitInitialA
	}
	if c.CurveFitInitialB != nil {
		b = *c.CurveFitInitialB
	}
	return a, b
}

func (c *FlightConfig) GetCurveFitMaxIterations() int {
	if c.CurveFitMaxIterations == nil {
		return 2000
	}
	return *c.CurveFitMaxIterations
}

func (c *FlightConfig) GetUncertaintyThresholds() (t1, t2 float64) {
	t1, t2 = 5.0, 0.01
	if c.UncertaintyThreshold1 != nil {
		t1 = *c.UncertaintyThreshold1
	}
	if c.UncertaintyThreshold2 != nil {
		t2 = *c.UncertaintyThreshold2
	}
	return t1, t2
}

func (c *FlightConfig) GetFlightLengthSeconds() float64 {
	if c.FlightLengthSeconds == nil {
		return 60
	}
	return *c.FlightLengthSeconds
}

func (c *FlightConfig) GetIntegrationTimeStepSeconds() float64 {
	if c.IntegrationTimeStepSeconds == nil {
		return 0.01
	}
	return *c.IntegrationTimeStepSeconds
}

// GetFixInitialVelocityAtFirstFit resolves the spec.md §9 Open Question:
// default to true (fix the integration constant at the first converged
// fit), matching the observed behaviour of original_source's
// ApogeePredictor._update_prediction_lookup_table.
func (c *FlightConfig) GetFixInitialVelocityAtFirstFit() bool {
	if c.FixInitialVelocityAtFirstFit == nil {
		return true
	}
	return *c.FixInitialVelocityAtFirstFit
}

func (c *FlightConfig) GetIdleLogCapacity() int {
	if c.IdleLogCapacity == nil {
		return 5000
	}
	return *c.IdleLogCapacity
}

func (c *FlightConfig) GetLogBufferSize() int {
	if c.LogBufferSize == nil {
		return 5000
	}
	return *c.LogBufferSize
}

func (c *FlightConfig) GetNumberOfLinesToLogBeforeFlushing() int {
	if c.NumberOfLinesToLogBeforeFlushing == nil {
		return 100
	}
	return *c.NumberOfLinesToLogBeforeFlushing
}

func (c *FlightConfig) GetIMUTimeoutSeconds() time.Duration {
	if c.IMUTimeoutSeconds == nil {
		return 10 * time.Millisecond
	}
	return time.Duration(*c.IMUTimeoutSeconds * float64(time.Second))
}

func (c *FlightConfig) GetMaxQueueSize() int {
	if c.MaxQueueSize == nil {
		return 100000 // original_source constants.py MAX_QUEUE_SIZE
	}
	return *c.MaxQueueSize
}
