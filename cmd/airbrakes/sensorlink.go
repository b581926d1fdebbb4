package main

import (
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/velocity.report/internal/imu"
)

// serialSensorLink implements imu.SensorLink over a live go.bug.st/serial
// connection. The IMU wire protocol itself is explicitly out of scope
// (spec.md §1 Non-goals): this link proves the physical connection and
// applies the bounded read timeout imu.RealSource requires, but leaves
// byte-level frame decoding as the one piece original_source's MSCL
// binding handles that has no equivalent library anywhere in the example
// pack. Wiring a real protocol decoder here is future work tracked in
// DESIGN.md, not a gap in the core control loop this repository owns.
type serialSensorLink struct {
	port serial.Port
}

func newSerialSensorLink(path string, baudRate int) (*serialSensorLink, error) {
	port, err := imu.OpenSerialLink(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	return &serialSensorLink{port: port}, nil
}

func (l *serialSensorLink) ReadFrames(timeout time.Duration) ([]imu.Frame, error) {
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, 4096)
	n, err := l.port.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// Bytes are available but frame decoding is not yet wired (see type
	// comment); discard them rather than guess at a layout.
	return nil, nil
}

func (l *serialSensorLink) Close() error {
	return l.port.Close()
}
