package main

import (
	"flag"
	"fmt"
)

// realFlags is `real`'s flag set, per spec.md §6: --verbose and --debug are
// mutually exclusive, --mock-servo substitutes a MockActuator for the
// physical servo board on the bench.
type realFlags struct {
	verbose    bool
	debug      bool
	mockServo  bool
}

func parseRealFlags(args []string) (*realFlags, error) {
	fs := flag.NewFlagSet("real", flag.ContinueOnError)
	f := &realFlags{}
	fs.BoolVar(&f.verbose, "verbose", false, "log microsecond-precision timestamps")
	fs.BoolVar(&f.debug, "debug", false, "log source file:line with each message")
	fs.BoolVar(&f.mockServo, "mock-servo", false, "drive a MockActuator instead of the physical servo board")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.verbose && f.debug {
		return nil, fmt.Errorf("--verbose and --debug are mutually exclusive")
	}
	return f, nil
}

// mockFlags is `mock`'s flag set: it replays a CSV trace through the IMU
// Source in place of live hardware. --mock-firm and --pretend-firm both
// name the replay file; mock-firm replays an actual prior flight log,
// pretend-firm replays a synthetic/bench trace shaped the same way. Both
// load through imu.NewCSVReplayGenerator -- the distinction is purely
// operator intent about what the file represents, not a difference in
// mechanism.
type mockFlags struct {
	realServo    bool
	keepLogFile  bool
	fastReplay   bool
	mockFirm     string
	pretendFirm  string
}

func parseMockFlags(args []string) (*mockFlags, error) {
	fs := flag.NewFlagSet("mock", flag.ContinueOnError)
	f := &mockFlags{}
	fs.BoolVar(&f.realServo, "real-servo", false, "drive the physical servo board while replaying mock IMU data")
	fs.BoolVar(&f.keepLogFile, "keep-log-file", false, "keep the CSV log produced by this replay run instead of deleting it on exit")
	fs.BoolVar(&f.fastReplay, "fast-replay", false, "replay as fast as possible instead of at the original ~1 kHz cadence")
	fs.StringVar(&f.mockFirm, "mock-firm", "", "path to a previously logged flight CSV to replay")
	fs.StringVar(&f.pretendFirm, "pretend-firm", "", "path to a synthetic/bench CSV trace to replay")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.mockFirm != "" && f.pretendFirm != "" {
		return nil, fmt.Errorf("--mock-firm and --pretend-firm are mutually exclusive")
	}
	if f.mockFirm == "" && f.pretendFirm == "" {
		return nil, fmt.Errorf("one of --mock-firm or --pretend-firm is required")
	}
	return f, nil
}

func (f *mockFlags) replayPath() string {
	if f.mockFirm != "" {
		return f.mockFirm
	}
	return f.pretendFirm
}
