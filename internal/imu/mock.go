package imu

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/velocity.report/internal/packets"
)

// FrameGenerator produces the next batch of frames for MockSource to
// enqueue, standing in for a live sensor the way
// internal/serialmux.NewMockSerialMux's ticker-fed io.Pipe stands in for a
// real serial port.
type FrameGenerator interface {
	// Next returns the frames for one polling cycle, or io.EOF when the
	// trace is exhausted.
	Next() ([]Frame, error)
}

// MockSource replays or synthesizes packets for the `mock` CLI subcommand
// and for tests, following NewMockSerialMux's ticker-driven generator
// pattern but producing typed packets instead of raw text lines.
type MockSource struct {
	*queueWorker
	gen      FrameGenerator
	interval time.Duration
}

// NewMockSource creates a MockSource that calls gen.Next() once per
// interval and enqueues the resulting packets.
func NewMockSource(gen FrameGenerator, interval time.Duration, queueCapacity int, sensorTimeout time.Duration) *MockSource {
	return &MockSource{
		queueWorker: newQueueWorker(queueCapacity, sensorTimeout),
		gen:         gen,
		interval:    interval,
	}
}

func (s *MockSource) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frames, err := s.gen.Next()
				if err == io.EOF {
					return
				}
				if err != nil {
					continue
				}
				pkts := make([]Packet, 0, len(frames))
				for _, f := range frames {
					pkts = append(pkts, decodeFrame(f))
				}
				s.enqueue(pkts)
			}
		}
	}()
	return nil
}

func (s *MockSource) Stop() error {
	return s.stop(5 * time.Second)
}

// CSVReplayGenerator replays a previously logged flight CSV
// (--mock-firm/--pretend-firm PATH), reconstructing Estimated packets from
// the subset of fields the logger recorded. Raw packets are not replayed:
// original flights only persist the estimated channel fields needed to
// drive the Data Processor.
type CSVReplayGenerator struct {
	f      *os.File
	r      *csv.Reader
	header map[string]int
	fast   bool
}

// NewCSVReplayGenerator opens path and prepares to replay it row by row.
// When fast is true (the CLI's --fast-replay), the CLI runs MockSource with
// a one-microsecond interval rather than this generator sleeping itself.
func NewCSVReplayGenerator(path string, fast bool) (*CSVReplayGenerator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	r := csv.NewReader(bufio.NewReader(f))
	headerRow, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read replay header: %w", err)
	}
	header := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		header[name] = i
	}
	return &CSVReplayGenerator{f: f, r: r, header: header, fast: fast}, nil
}

func (g *CSVReplayGenerator) col(row []string, name string) float64 {
	idx, ok := g.header[name]
	if !ok || idx >= len(row) || row[idx] == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(row[idx], 64)
	return v
}

func (g *CSVReplayGenerator) Next() ([]Frame, error) {
	row, err := g.r.Read()
	if err != nil {
		return nil, err
	}
	p := &packets.EstimatedIMUPacket{
		TimestampNs:          int64(g.col(row, "imu_timestamp_ns")),
		EstPressureAlt:       g.col(row, "est_pressure_alt"),
		OrientQuatW:          g.col(row, "orient_quat_w"),
		OrientQuatX:          g.col(row, "orient_quat_x"),
		OrientQuatY:          g.col(row, "orient_quat_y"),
		OrientQuatZ:          g.col(row, "orient_quat_z"),
		EstAngularRateX:      g.col(row, "est_angular_rate_x"),
		EstAngularRateY:      g.col(row, "est_angular_rate_y"),
		EstAngularRateZ:      g.col(row, "est_angular_rate_z"),
		EstCompensatedAccelX: g.col(row, "est_compensated_accel_x"),
		EstCompensatedAccelY: g.col(row, "est_compensated_accel_y"),
		EstCompensatedAccelZ: g.col(row, "est_compensated_accel_z"),
		HasPressureAlt:       true,
		HasOrientation:       true,
		HasAngularRate:       true,
		HasCompensatedAccel:  true,
	}
	return []Frame{packetToFrame(p)}, nil
}

func (g *CSVReplayGenerator) Close() error { return g.f.Close() }

// packetToFrame is the inverse of decodeFrame's estimated-channel path,
// used only by the replay generator to reuse the same Frame-shaped
// pipeline as the real and synthetic sources.
func packetToFrame(p *packets.EstimatedIMUPacket) Frame {
	return Frame{
		DescriptorSet: packets.DescriptorSetEstimated,
		TimestampNs:   p.TimestampNs,
		DataPoints: []DataPoint{
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstPressureAlt, Qualifier: 1, Value: p.EstPressureAlt, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstOrientQuat, Qualifier: 1, Value: p.OrientQuatW, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstOrientQuat, Qualifier: 2, Value: p.OrientQuatX, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstOrientQuat, Qualifier: 3, Value: p.OrientQuatY, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstOrientQuat, Qualifier: 4, Value: p.OrientQuatZ, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstAngularRate, Qualifier: 1, Value: p.EstAngularRateX, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstAngularRate, Qualifier: 2, Value: p.EstAngularRateY, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstAngularRate, Qualifier: 3, Value: p.EstAngularRateZ, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstCompensatedAccel, Qualifier: 1, Value: p.EstCompensatedAccelX, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstCompensatedAccel, Qualifier: 2, Value: p.EstCompensatedAccelY, Valid: true},
			{DescriptorSet: packets.DescriptorSetEstimated, FieldID: fieldEstCompensatedAccel, Qualifier: 3, Value: p.EstCompensatedAccelZ, Valid: true},
		},
	}
}

// SyntheticGenerator produces a fixed sequence of Estimated packets from an
// in-memory trace, used by package tests for the scenarios in spec.md §8.
type SyntheticGenerator struct {
	packets []*packets.EstimatedIMUPacket
	idx     int
}

// NewSyntheticGenerator wraps a pre-built trace.
func NewSyntheticGenerator(trace []*packets.EstimatedIMUPacket) *SyntheticGenerator {
	return &SyntheticGenerator{packets: trace}
}

func (g *SyntheticGenerator) Next() ([]Frame, error) {
	if g.idx >= len(g.packets) {
		return nil, io.EOF
	}
	p := g.packets[g.idx]
	g.idx++
	return []Frame{packetToFrame(p)}, nil
}
