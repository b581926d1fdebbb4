// Package imu implements the IMU Source component (spec.md §4.1): a
// background worker that polls the inertial sensor at ~1 kHz and enqueues
// Raw and Estimated packets onto a bounded queue for the Context to drain.
//
// The worker/queue/mock-vs-real split follows internal/serialmux's
// SerialMux[T]/SerialPorter pattern: a generic background Monitor loop
// reading from a narrow port-like interface, fanning results into a single
// bounded channel instead of serialmux's multi-subscriber fan-out (the IMU
// queue has exactly one producer and one consumer per spec.md §5).
package imu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
)

// Packet is a tagged union over the two descriptor sets the sensor
// produces. Exactly one of Raw/Estimated is non-nil.
type Packet struct {
	Raw       *packets.RawIMUPacket
	Estimated *packets.EstimatedIMUPacket
}

// Source is the public contract from spec.md §4.1.
type Source interface {
	// Start spawns the background polling worker.
	Start(ctx context.Context) error
	// Stop signals shutdown and joins the worker within a bounded timeout.
	// Missing the timeout is logged, not returned as a fatal error.
	Stop() error
	// GetMany returns up to maxPackets packets from the head of the queue.
	// If block is true and the queue is empty, it waits up to the
	// configured IMU timeout before returning an empty batch.
	GetMany(block bool, maxPackets int) []Packet
	// QueueSize reports the current queue depth.
	QueueSize() int
	// PacketsPerCycle reports the number of packets produced on the most
	// recent sensor read.
	PacketsPerCycle() int
}

// queueWorker holds the bounded-queue/shutdown machinery shared by the real
// and mock sources, mirroring SerialMux's subscriberMu/closing bookkeeping.
type queueWorker struct {
	queue chan Packet

	timeout time.Duration

	packetsPerCycle atomic.Int64

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func newQueueWorker(capacity int, timeout time.Duration) *queueWorker {
	return &queueWorker{
		queue:   make(chan Packet, capacity),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (w *queueWorker) enqueue(pkts []Packet) {
	w.packetsPerCycle.Store(int64(len(pkts)))
	for _, p := range pkts {
		select {
		case w.queue <- p:
		default:
			// Queue full: spec.md treats this as a design-time
			// mis-sizing, not a crash. Drop and log.
			monitoring.Logf("imu: queue full, dropping packet")
		}
	}
}

// GetMany implements Source.GetMany against the shared queue.
func (w *queueWorker) GetMany(block bool, maxPackets int) []Packet {
	if maxPackets <= 0 {
		maxPackets = 1
	}
	out := make([]Packet, 0, maxPackets)

	if block {
		select {
		case p, ok := <-w.queue:
			if !ok {
				return out
			}
			out = append(out, p)
		case <-time.After(w.timeout):
			return out
		}
	}

drain:
	for len(out) < maxPackets {
		select {
		case p, ok := <-w.queue:
			if !ok {
				break drain
			}
			out = append(out, p)
		default:
			break drain
		}
	}
	return out
}

func (w *queueWorker) QueueSize() int       { return len(w.queue) }
func (w *queueWorker) PacketsPerCycle() int { return int(w.packetsPerCycle.Load()) }

// stop signals shutdown via context cancellation, drains any residual
// queued items (so the producer goroutine never blocks on a full channel
// while exiting), and joins within a bounded timeout.
func (w *queueWorker) stop(joinTimeout time.Duration) error {
	var joinErr error
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		go func() {
			for {
				select {
				case <-w.queue:
				case <-w.done:
					return
				}
			}
		}()
		select {
		case <-w.done:
		case <-time.After(joinTimeout):
			joinErr = errJoinTimeout
			monitoring.Logf("imu: stop() timed out waiting for worker to join")
		}
	})
	return joinErr
}

var errJoinTimeout = errStr("imu: worker join timed out")

type errStr string

func (e errStr) Error() string { return string(e) }
