package servo

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
	"github.com/banshee-data/velocity.report/internal/serialmux"
)

// SerialActuator drives a servo controller board over a serial link through
// internal/serialmux.SerialMux: a single writer protected by SendCommand's
// mutex, and a background Monitor loop fanning encoder-report lines out to
// subscribers.
type SerialActuator struct {
	mux        *serialmux.SerialMux[serial.Port]
	subID      string
	lines      chan string
	encoderPos atomic.Int64
	cancel     context.CancelFunc
}

// NewSerialActuator opens path with opts and starts monitoring it for
// "ENC <n>" encoder-position reports.
func NewSerialActuator(path string, opts serialmux.PortOptions) (*SerialActuator, error) {
	mux, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open servo serial link: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &SerialActuator{mux: mux, cancel: cancel}
	a.subID, a.lines = mux.Subscribe()

	go func() {
		if err := mux.Monitor(ctx); err != nil {
			monitoring.Logf("servo: serial monitor exited: %v", err)
		}
	}()
	go a.consumeLines()

	return a, nil
}

func (a *SerialActuator) consumeLines() {
	for line := range a.lines {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "ENC" {
			continue
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			a.encoderPos.Store(int64(n))
		}
	}
}

// SetPosition sends "SET <extension>" over the link.
func (a *SerialActuator) SetPosition(ext packets.ServoExtension) error {
	return a.mux.SendCommand(fmt.Sprintf("SET %d", int(ext)))
}

// EncoderPosition returns the most recently reported encoder step count.
func (a *SerialActuator) EncoderPosition() int {
	return int(a.encoderPos.Load())
}

// AttachAdminRoutes mounts the underlying serial link's send-command page,
// command API, and SSE tail directly onto mux, exactly as
// internal/serialmux.SerialMux's own AttachAdminRoutes does for any other
// consumer of a SerialMux -- here it gives the servo board's serial link
// the same bench diagnostics the IMU link would get if wired the same way.
func (a *SerialActuator) AttachAdminRoutes(mux *http.ServeMux) {
	a.mux.AttachAdminRoutes(mux)
}

// Close stops the monitor loop, unsubscribes, and closes the port.
func (a *SerialActuator) Close() error {
	a.cancel()
	a.mux.Unsubscribe(a.subID)
	return a.mux.Close()
}
