package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samsamfire/mstpd/pkg/mstp"
	"github.com/samsamfire/mstpd/pkg/mstpconfig"
	"github.com/samsamfire/mstpd/pkg/mstpmetrics"
	"github.com/samsamfire/mstpd/pkg/uart"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	device         string
	baud           int
	thisStation    uint8
	nmaxManager    uint8
	nmaxInfoFrames uint8
	tusageTimeoutMs int
	metricsAddr    string
	tickPeriod     = time.Millisecond
)

func main() {
	log.SetLevel(log.InfoLevel)

	root := &cobra.Command{
		Use:   "mstpd",
		Short: "BACnet MS/TP data-link daemon",
		RunE:  run,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "ini config file (overrides flags when set)")
	root.Flags().StringVarP(&device, "device", "d", "/dev/ttyUSB0", "serial device path")
	root.Flags().IntVarP(&baud, "baud", "b", 76800, "line baud rate")
	root.Flags().Uint8VarP(&thisStation, "station", "s", 0, "this station's MAC address")
	root.Flags().Uint8Var(&nmaxManager, "nmax-manager", 127, "highest manager address to poll")
	root.Flags().Uint8Var(&nmaxInfoFrames, "nmax-info-frames", 1, "max frames sent per token hold")
	root.Flags().IntVar(&tusageTimeoutMs, "tusage-timeout-ms", 25, "token usage timeout in milliseconds")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", ":9121", "Prometheus /metrics listen address, empty to disable")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := mstp.Config{
		ThisStation:    thisStation,
		NmaxManager:    nmaxManager,
		NmaxInfoFrames: nmaxInfoFrames,
		Baud:           baud,
		TusageTimeout:  time.Duration(tusageTimeoutMs) * time.Millisecond,
	}
	dev := device

	if configPath != "" {
		file, err := mstpconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config %s: %w", configPath, err)
		}
		cfg = file.EngineConfig()
		dev = file.Device
	}

	port, err := uart.Open(dev, cfg.Baud, log.WithField("device", dev))
	if err != nil {
		return fmt.Errorf("opening %s: %w", dev, err)
	}

	engine := mstp.NewEngine(port, cfg, log.WithField("station", cfg.ThisStation))
	defer engine.Close()

	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(mstpmetrics.NewCollector(engine, prometheus.Labels{"device": dev}))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			log.WithField("addr", metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	log.WithFields(log.Fields{
		"device":       dev,
		"baud":         cfg.Baud,
		"this_station": cfg.ThisStation,
	}).Info("mstpd starting")

	start := time.Now()
	for {
		elapsed := time.Since(start)
		start = time.Now()
		engine.Tick(elapsed)

		if f, ok := engine.ReceiveRX(); ok {
			log.WithFields(log.Fields{
				"type":   f.Type.String(),
				"source": f.Source,
				"bytes":  len(f.Data),
			}).Debug("received application frame")
		}
		time.Sleep(tickPeriod)
	}
}
