// Command airbrakes is the flight computer's entry point: it wires the
// IMU Source, Data Processor, Apogee Predictor, Servo Actuator, Logger,
// Camera, and State Machine + Context together, then runs the Context's
// main loop until a landing shutdown or an interrupt signal, following the
// flag-parsing/signal.NotifyContext/sync.WaitGroup shutdown shape of
// cmd/radar/radar.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/velocity.report/internal/config"
	"github.com/banshee-data/velocity.report/internal/flight"
	"github.com/banshee-data/velocity.report/internal/imu"
	"github.com/banshee-data/velocity.report/internal/servo"
	"github.com/banshee-data/velocity.report/internal/version"
)

var (
	configFile   = flag.String("config", "", "path to flight tuning JSON override file (defaults applied when empty)")
	logsDir      = flag.String("logs-dir", "logs", "directory to write log_N.csv files into")
	imuPort      = flag.String("imu-port", "/dev/ttyACM0", "serial port the IMU is connected to")
	imuBaud      = flag.Int("imu-baud", 921600, "baud rate for the IMU serial link")
	servoPort    = flag.String("servo-port", "/dev/ttyUSB0", "serial port the servo controller is connected to")
	listen       = flag.String("listen", ":8090", "admin HTTP listen address (empty disables the admin surface)")
	dbPath       = flag.String("db-path", "", "path to the flight sqlite sidecar (empty disables it)")
	versionFlag  = flag.Bool("version", false, "print version information and exit")
)

func main() {
	log.SetFlags(log.LstdFlags)
	log.SetOutput(os.Stdout)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("airbrakes v%s (git SHA: %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: airbrakes <real|mock> [flags]")
		os.Exit(2)
	}

	subcommand := flag.Arg(0)
	subArgs := flag.Args()[1:]

	var err error
	switch subcommand {
	case "real":
		err = runReal(subArgs)
	case "mock":
		err = runMock(subArgs)
	default:
		err = fmt.Errorf("unknown subcommand %q (want real or mock)", subcommand)
	}
	if err != nil {
		log.Printf("airbrakes: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.FlightConfig, error) {
	if *configFile == "" {
		return config.EmptyFlightConfig(), nil
	}
	return config.LoadFlightConfig(*configFile)
}

func runReal(args []string) error {
	f, err := parseRealFlags(args)
	if err != nil {
		return err
	}
	if f.verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else if f.debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	link, err := newSerialSensorLink(*imuPort, *imuBaud)
	if err != nil {
		return fmt.Errorf("open IMU sensor link: %w", err)
	}
	src := imu.NewRealSource(link, cfg.GetMaxQueueSize(), cfg.GetIMUTimeoutSeconds())

	var act servo.Actuator
	if f.mockServo {
		act = servo.NewMockActuator()
	} else {
		serialAct, err := newSerialActuator(*servoPort)
		if err != nil {
			return fmt.Errorf("open servo serial link: %w", err)
		}
		act = serialAct
	}

	_, err = runFlight(cfg, src, act, flight.NewNoopCamera(), "real", *logsDir, *listen, *dbPath)
	return err
}

func runMock(args []string) error {
	f, err := parseMockFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gen, err := imu.NewCSVReplayGenerator(f.replayPath(), f.fastReplay)
	if err != nil {
		return fmt.Errorf("open replay trace: %w", err)
	}

	interval := time.Millisecond
	if f.fastReplay {
		interval = time.Microsecond
	}
	src := imu.NewMockSource(gen, interval, cfg.GetMaxQueueSize(), cfg.GetIMUTimeoutSeconds())

	var act servo.Actuator
	if f.realServo {
		serialAct, err := newSerialActuator(*servoPort)
		if err != nil {
			return fmt.Errorf("open servo serial link: %w", err)
		}
		act = serialAct
	} else {
		act = servo.NewMockActuator()
	}

	logPath, err := runFlight(cfg, src, act, flight.NewNoopCamera(), "mock", *logsDir, *listen, *dbPath)
	if err != nil {
		return err
	}
	if !f.keepLogFile && logPath != "" {
		if err := os.Remove(logPath); err != nil {
			log.Printf("airbrakes: failed to remove replay log %s: %v", logPath, err)
		}
	}
	return nil
}
