// Package fplog implements the Logger component (spec.md §4.6): a
// background worker that serializes per-iteration packet bundles into a
// single CSV file, with idle-phase ring-buffering and periodic fsync.
package fplog

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/velocity.report/internal/imu"
	"github.com/banshee-data/velocity.report/internal/monitoring"
	"github.com/banshee-data/velocity.report/internal/packets"
)

var logFileRe = regexp.MustCompile(`^log_(\d+)\.csv$`)

// Logger owns the CSV file for one flight run.
type Logger struct {
	queue chan packets.LoggerDataPacket

	idleCapacity int
	bufferSize   int
	flushEvery   int

	mu        sync.Mutex
	idleCount int
	idle      bool
	ring      []packets.LoggerDataPacket

	path string
	f    *os.File
	w    *csv.Writer

	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

// New creates the next log_{N+1}.csv in dir (creating dir if absent),
// writes the header row, and returns a Logger ready to Start.
func New(dir string, idleCapacity, bufferSize, flushEvery int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	maxN := 0
	for _, e := range entries {
		m := logFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxN {
			maxN = n
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("log_%d.csv", maxN+1))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	w := csv.NewWriter(bufio.NewWriter(f))
	if err := w.Write(packets.FieldOrder); err != nil {
		f.Close()
		return nil, fmt.Errorf("write log header: %w", err)
	}
	w.Flush()

	return &Logger{
		queue:        make(chan packets.LoggerDataPacket, bufferSize*4),
		idleCapacity: idleCapacity,
		bufferSize:   bufferSize,
		flushEvery:   flushEvery,
		path:         path,
		f:            f,
		w:            w,
		done:         make(chan struct{}),
	}, nil
}

// Path returns the on-disk CSV file this Logger writes to.
func (l *Logger) Path() string { return l.path }

// Start spawns the background writer goroutine.
func (l *Logger) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go func() {
		defer close(l.done)
		defer l.w.Flush()
		defer l.f.Close()

		linesSinceFlush := 0
		for {
			select {
			case row, ok := <-l.queue:
				if !ok {
					return
				}
				if err := l.w.Write(toCSVRow(row)); err != nil {
					monitoring.Logf("fplog: write failed: %v", err)
					continue
				}
				linesSinceFlush++
				if linesSinceFlush >= l.flushEvery {
					l.w.Flush()
					l.f.Sync()
					linesSinceFlush = 0
				}
			case <-ctx.Done():
				// Drain whatever is already queued so a shutdown never
				// silently drops rows that were already accepted.
				for {
					select {
					case row, ok := <-l.queue:
						if !ok {
							return
						}
						l.w.Write(toCSVRow(row))
					default:
						return
					}
				}
			}
		}
	}()
	return nil
}

// Log builds Logger Data Packets from one Context iteration's inputs and
// enqueues them, applying idle-phase ring buffering per spec.md §4.6. It is
// non-blocking: a full queue is logged and dropped, per the "design-time
// mis-sizing" failure semantics in spec.md §7.
func (l *Logger) Log(
	ctxPkt packets.ContextDataPacket,
	servoPkt packets.ServoDataPacket,
	imuBatch []imu.Packet,
	processorBatch []packets.ProcessorDataPacket,
	apogeeBatch []packets.ApogeePredictorDataPacket,
) {
	rows := prepareLoggerPackets(ctxPkt, servoPkt, imuBatch, processorBatch, apogeeBatch)

	l.mu.Lock()
	defer l.mu.Unlock()

	isIdleState := ctxPkt.State == packets.StateStandby || ctxPkt.State == packets.StateLanded
	if isIdleState != l.idle {
		if isIdleState {
			l.idleCount = 0
		} else {
			for _, buffered := range l.ring {
				l.enqueueLocked(buffered)
			}
			l.ring = nil
		}
		l.idle = isIdleState
	}

	for _, row := range rows {
		if l.idle && l.idleCount >= l.idleCapacity {
			l.ring = append(l.ring, row)
			if len(l.ring) > l.bufferSize {
				l.ring = l.ring[len(l.ring)-l.bufferSize:]
			}
			continue
		}
		if l.idle {
			l.idleCount++
		}
		l.enqueueLocked(row)
	}
}

func (l *Logger) enqueueLocked(row packets.LoggerDataPacket) {
	select {
	case l.queue <- row:
	default:
		monitoring.Logf("fplog: queue full, dropping log row")
	}
}

// IsLogBufferFull reports whether the idle ring buffer is at capacity.
func (l *Logger) IsLogBufferFull() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring) >= l.bufferSize
}

// IsRunning reports whether the background writer has not yet joined.
func (l *Logger) IsRunning() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// QueueDrained reports whether the queue and idle ring buffer are both
// empty; the Landed state polls this before requesting shutdown.
func (l *Logger) QueueDrained() bool {
	l.mu.Lock()
	ringEmpty := len(l.ring) == 0
	l.mu.Unlock()
	return ringEmpty && len(l.queue) == 0
}

// Stop flushes any buffered idle rows into the queue, then closes it to
// signal the worker, then joins within a bounded timeout.
func (l *Logger) Stop() error {
	var joinErr error
	l.stopOnce.Do(func() {
		l.mu.Lock()
		for _, row := range l.ring {
			l.enqueueLocked(row)
		}
		l.ring = nil
		l.mu.Unlock()

		close(l.queue)
		if l.cancel != nil {
			l.cancel()
		}

		select {
		case <-l.done:
		case <-time.After(5 * time.Second):
			joinErr = errJoinTimeout
			monitoring.Logf("fplog: stop() timed out waiting for worker to join")
		}
	})
	return joinErr
}

var errJoinTimeout = stopErr("fplog: worker join timed out")

type stopErr string

func (e stopErr) Error() string { return string(e) }
