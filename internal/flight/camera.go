package flight

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/velocity.report/internal/monitoring"
)

// Camera is the background recording worker named in spec.md §3/§5. No
// library in the retrieved example pack offers a Go analogue of the
// Raspberry-Pi-specific camera stack the original implementation used
// (picamera2's circular-buffer H264 recorder has no equivalent among these
// repos' dependencies), so this is a deliberately thin stdlib
// implementation: it models the same start/begin-recording/stop lifecycle
// without committing to a specific capture backend, following the
// bounded-join pattern used by every other background worker here.
type Camera interface {
	Start(ctx context.Context) error
	// BeginRecording signals that motor burn has started; before this call
	// the camera only buffers, per the original circular-output design.
	BeginRecording() error
	Stop() error
}

// NoopCamera implements Camera without touching any hardware, for the
// `mock` CLI subcommand and for tests.
type NoopCamera struct {
	mu        sync.Mutex
	recording bool
	done      chan struct{}
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// NewNoopCamera creates a Camera with no backing hardware.
func NewNoopCamera() *NoopCamera { return &NoopCamera{done: make(chan struct{})} }

func (c *NoopCamera) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		defer close(c.done)
		<-ctx.Done()
	}()
	return nil
}

func (c *NoopCamera) BeginRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = true
	return nil
}

// Recording reports whether BeginRecording has been called, for tests.
func (c *NoopCamera) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *NoopCamera) Stop() error {
	var joinErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			joinErr = errCameraJoinTimeout
			monitoring.Logf("camera: stop() timed out waiting for worker to join")
		}
	})
	return joinErr
}

var errCameraJoinTimeout = cameraErr("camera: worker join timed out")

type cameraErr string

func (e cameraErr) Error() string { return string(e) }
