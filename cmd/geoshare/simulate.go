package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/geoshare/internal/client"
	"github.com/Tyrowin/geoshare/internal/logging"
)

var (
	simCfg = client.SimulatorConfig{}

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Drive a running hub with synthetic walkers",
		RunE:  runSimulate,
	}
)

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simCfg.URL, "url", "ws://localhost:3000/ws", "hub WebSocket URL")
	f.StringVar(&simCfg.Origin, "origin", "http://localhost:3000", "Origin header to present")
	f.IntVarP(&simCfg.Walkers, "walkers", "n", 10, "number of simulated clients")
	f.DurationVar(&simCfg.Interval, "interval", time.Second, "time between position reports per walker")
	f.Float64Var(&simCfg.Center.Latitude, "lat", 51.5074, "starting latitude")
	f.Float64Var(&simCfg.Center.Longitude, "lon", -0.1278, "starting longitude")
	f.Float64Var(&simCfg.StepMeters, "step", 10, "maximum distance a walker moves per report, in meters")
}

func runSimulate(_ *cobra.Command, _ []string) error {
	if err := logging.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}
	if err := simCfg.Center.Validate(); err != nil {
		return fmt.Errorf("invalid --lat/--lon: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	sim := client.NewSimulator(simCfg)
	log.Infof("Simulating %d walkers against %s", simCfg.Walkers, simCfg.URL)
	if err := sim.Run(ctx); err != nil {
		return err
	}

	stats := sim.Stats()
	log.Infof("sent=%d received=%d disconnects=%d reconnects=%d",
		stats.Sent, stats.Received, stats.Disconnects, stats.Reconnects)
	return nil
}
