package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/velocity.report/api"
	"github.com/banshee-data/velocity.report/internal/apogee"
	"github.com/banshee-data/velocity.report/internal/config"
	"github.com/banshee-data/velocity.report/internal/flight"
	"github.com/banshee-data/velocity.report/internal/flightdb"
	"github.com/banshee-data/velocity.report/internal/fplog"
	"github.com/banshee-data/velocity.report/internal/imu"
	"github.com/banshee-data/velocity.report/internal/processor"
	"github.com/banshee-data/velocity.report/internal/serialmux"
	"github.com/banshee-data/velocity.report/internal/servo"
)

// newSerialActuator opens the servo controller's serial link with the
// defaults servo/serialmux already normalize (19200 8N1).
func newSerialActuator(path string) (*servo.SerialActuator, error) {
	return servo.NewSerialActuator(path, serialmux.PortOptions{})
}

// runFlight builds the Data Processor, Apogee Predictor, Servo, Logger, and
// the Context around the already-constructed IMU Source/Servo Actuator/
// Camera, runs it to completion, and returns the log file path written this
// run so callers (the mock subcommand) can honor --keep-log-file.
func runFlight(cfg *config.FlightConfig, src imu.Source, act servo.Actuator, cam flight.Camera, mode, logsDir, listenAddr, dbPath string) (string, error) {
	proc := processor.New(cfg.GetGravityMPS2(), cfg.GetAccelDeadbandMPS2())

	initialA, initialB := cfg.GetCurveFitInitial()
	u1, u2 := cfg.GetUncertaintyThresholds()
	tuning := apogee.Tuning{
		Gravity:                      cfg.GetGravityMPS2(),
		MinPacketsForFit:             cfg.GetApogeePredictionMinPackets(),
		InitialA:                     initialA,
		InitialB:                     initialB,
		MaxIterations:                cfg.GetCurveFitMaxIterations(),
		UncertaintyThreshold1:        u1,
		UncertaintyThreshold2:        u2,
		FlightLengthSeconds:          cfg.GetFlightLengthSeconds(),
		IntegrationTimeStepSeconds:   cfg.GetIntegrationTimeStepSeconds(),
		FixInitialVelocityAtFirstFit: cfg.GetFixInitialVelocityAtFirstFit(),
	}
	pred := apogee.New(tuning, 1024)

	sv := servo.New(act, cfg.GetServoDelaySeconds())

	logger, err := fplog.New(logsDir, cfg.GetIdleLogCapacity(), cfg.GetLogBufferSize(), cfg.GetNumberOfLinesToLogBeforeFlushing())
	if err != nil {
		return "", fmt.Errorf("create logger: %w", err)
	}

	var flightDB *flightdb.DB
	if dbPath != "" {
		flightDB, err = flightdb.Open(dbPath)
		if err != nil {
			return "", fmt.Errorf("open flight db: %w", err)
		}
		defer flightDB.Close()
	}

	fc := flight.New(src, proc, pred, sv, logger, cam, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fc.Start(ctx); err != nil {
		return logger.Path(), fmt.Errorf("start flight context: %w", err)
	}

	var runID string
	if flightDB != nil {
		runID, err = flightDB.StartRun(mode, logger.Path(), time.Now().UnixNano())
		if err != nil {
			log.Printf("airbrakes: failed to record run start: %v", err)
		}
	}

	var wg sync.WaitGroup

	if flightDB != nil && runID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordStateTransitions(ctx, fc, flightDB, runID)
		}()
	}

	var adminServer *api.Server
	var httpServer *http.Server
	if listenAddr != "" {
		adminServer = api.New(fc, flightDB)
		if err := adminServer.Start(ctx); err != nil {
			log.Printf("airbrakes: failed to start admin sampler: %v", err)
			adminServer = nil
		} else {
			httpServer = &http.Server{Addr: listenAddr, Handler: adminServer.Mux()}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("airbrakes: admin http server error: %v", err)
				}
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()
		}
	}

	fc.Run(ctx)
	fc.Stop()
	if adminServer != nil {
		adminServer.Stop()
	}
	wg.Wait()

	if flightDB != nil && runID != "" {
		if err := flightDB.EndRun(runID, time.Now().UnixNano()); err != nil {
			log.Printf("airbrakes: failed to record run end: %v", err)
		}
	}

	return logger.Path(), nil
}

// recordStateTransitions polls the Context's current state and records
// each change to the flight database, since flight.Context exposes state
// only via a plain getter rather than a change-notification channel.
func recordStateTransitions(ctx context.Context, fc *flight.Context, db *flightdb.DB, runID string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := fc.State().Name().String()
			if current == last {
				continue
			}
			last = current
			if err := db.RecordStateTransition(runID, current, time.Now().UnixNano()); err != nil {
				log.Printf("airbrakes: failed to record state transition: %v", err)
			}
		}
	}
}
