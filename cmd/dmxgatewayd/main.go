// dmxgatewayd is the gateway daemon: it wires config, catalogue,
// coordinator, scheduler, and protocol handlers together and runs until
// terminated, shutting down in the order spec.md §5 requires (stop
// scheduler → stop protocol handlers → disable DMX → stop coordinator
// refresh → close IPC endpoint).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pierrejay/dmxgateway/client"
	"github.com/pierrejay/dmxgateway/internal/config"
	"github.com/pierrejay/dmxgateway/internal/coordinator"
	gwhttp "github.com/pierrejay/dmxgateway/internal/handlers/http"
	"github.com/pierrejay/dmxgateway/internal/handlers/metrics"
	"github.com/pierrejay/dmxgateway/internal/handlers/modbus"
	gwmqtt "github.com/pierrejay/dmxgateway/internal/handlers/mqtt"
	"github.com/pierrejay/dmxgateway/internal/handlers/ws"
	"github.com/pierrejay/dmxgateway/internal/scheduler"
)

func mainImpl() error {
	configPath := flag.String("config", "/etc/dmxgateway/config.yaml", "path to the gateway YAML configuration")
	flag.Parse()

	log.SetHandler(json.Default)
	logger := log.WithField("component", "dmxgatewayd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("dmxgatewayd: %w", err)
	}

	peer, err := client.Open(cfg.Device)
	if err != nil {
		return fmt.Errorf("dmxgatewayd: open device: %w", err)
	}
	peer.SetTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond)
	defer peer.Close()

	coord := coordinator.New(cfg.Catalogue, peer, time.Duration(cfg.ThrottleMs)*time.Millisecond, logger)
	if cfg.AutoEnable {
		if err := coord.Enable(); err != nil {
			logger.WithError(err).Warn("dmxgatewayd: auto_enable failed at startup")
		}
	}
	if cfg.RefreshMs > 0 {
		coord.StartRefresh(time.Duration(cfg.RefreshMs) * time.Millisecond)
	}

	sched, err := scheduler.New(cfg.Schedule, cfg.Location, coord, logger)
	if err != nil {
		return fmt.Errorf("dmxgatewayd: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)
	go sampleMetrics(ctx, coord, metricsReg)

	var servers []*http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/api", gwhttp.New(coord, metricsReg, logger))
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
		servers = append(servers, srv)
		go serveAndLog(srv, logger, "http")
	}
	if cfg.WSAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", ws.New(coord, logger))
		srv := &http.Server{Addr: cfg.WSAddr, Handler: mux}
		servers = append(servers, srv)
		go serveAndLog(srv, logger, "ws")
	}

	var modbusHandler *modbus.Handler
	if cfg.ModbusEnabled && cfg.ModbusAddr != "" {
		modbusHandler = modbus.New(coord, metricsReg, logger)
		go func() {
			if err := modbusHandler.ListenAndServe(cfg.ModbusAddr); err != nil {
				logger.WithError(err).Error("dmxgatewayd: modbus listener failed")
			}
		}()
	}

	var mqttHandler *gwmqtt.Handler
	if cfg.MQTTEnabled {
		mqttHandler = gwmqtt.New(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTPrefix, coord, metricsReg, logger)
		if err := mqttHandler.Start(); err != nil {
			logger.WithError(err).Error("dmxgatewayd: mqtt start failed")
		}
	}

	waitForSignal(logger)

	logger.Info("dmxgatewayd: shutting down")
	sched.Stop()
	if mqttHandler != nil {
		mqttHandler.Stop()
	}
	if modbusHandler != nil {
		modbusHandler.Close()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := coord.Disable(); err != nil {
		logger.WithError(err).Warn("dmxgatewayd: disable at shutdown failed")
	}
	coord.StopRefresh(shutdownCtx)
	return nil
}

// sampleMetrics periodically reconciles the coordinator's cumulative
// dropped-delta count into the Prometheus counter, which only supports
// incremental Add, and polls the peer's current frame rate into the
// frame_rate_fps gauge (spec.md §7, §9).
func sampleMetrics(ctx context.Context, coord *coordinator.Coordinator, reg *metrics.Registry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := coord.DroppedDeltas()
			if dropped > lastDropped {
				reg.SubscriberDrops.Add(float64(dropped - lastDropped))
				lastDropped = dropped
			}
			if fps, err := coord.FrameRateFPS(); err == nil {
				reg.FrameRate.Set(fps)
			}
		}
	}
}

func serveAndLog(srv *http.Server, logger *log.Entry, name string) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).WithField("server", name).Error("dmxgatewayd: listener failed")
	}
}

func waitForSignal(logger *log.Entry) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	logger.WithField("signal", sig.String()).Info("dmxgatewayd: received shutdown signal")
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "dmxgatewayd: %s.\n", err)
		os.Exit(1)
	}
}
