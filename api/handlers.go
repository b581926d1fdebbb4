package api

import (
	"encoding/json"
	"net/http"
)

type statusResponse struct {
	State                 string  `json:"state"`
	CurrentAltitude       float64 `json:"current_altitude"`
	MaxAltitude           float64 `json:"max_altitude"`
	VerticalVelocity      float64 `json:"vertical_velocity"`
	MaxVerticalVelocity   float64 `json:"max_vertical_velocity"`
	AverageVerticalAccel  float64 `json:"average_vertical_acceleration"`
	ServoExtension        string  `json:"servo_extension"`
	EncoderPosition       int     `json:"encoder_position"`
	PredictedApogee       float64 `json:"predicted_apogee,omitempty"`
	HavePrediction        bool    `json:"have_prediction"`
	TargetAltitudeMeters  float64 `json:"target_altitude_meters"`
	ShutdownRequested     bool    `json:"shutdown_requested"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	apogeePkt, havePrediction := s.fc.LastApogee()

	resp := statusResponse{
		State:                s.fc.State().Name().String(),
		CurrentAltitude:      s.fc.Processor.CurrentAltitude(),
		MaxAltitude:          s.fc.Processor.MaxAltitude(),
		VerticalVelocity:     s.fc.Processor.VerticalVelocity(),
		MaxVerticalVelocity:  s.fc.Processor.MaxVerticalVelocity(),
		AverageVerticalAccel: s.fc.Processor.AverageVerticalAcceleration(),
		ServoExtension:       s.fc.Servo.CurrentExtension().String(),
		EncoderPosition:      s.fc.Servo.GetEncoderReading(),
		HavePrediction:       havePrediction,
		TargetAltitudeMeters: s.fc.Config.GetTargetAltitudeMeters(),
		ShutdownRequested:    s.fc.ShutdownRequested(),
	}
	if havePrediction {
		resp.PredictedApogee = apogeePkt.PredictedApogee
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
