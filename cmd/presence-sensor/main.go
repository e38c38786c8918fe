// Command presence-sensor watches a presence sensor on a GPIO line, drives an
// indicator LED, keeps the wireless link up and publishes occupancy to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/presence-sensor/internal/config"
	"github.com/sweeney/presence-sensor/internal/control"
	"github.com/sweeney/presence-sensor/internal/event"
	"github.com/sweeney/presence-sensor/internal/gpio"
	"github.com/sweeney/presence-sensor/internal/history"
	"github.com/sweeney/presence-sensor/internal/indicator"
	"github.com/sweeney/presence-sensor/internal/logging"
	"github.com/sweeney/presence-sensor/internal/logic"
	"github.com/sweeney/presence-sensor/internal/metrics"
	"github.com/sweeney/presence-sensor/internal/mqtt"
	"github.com/sweeney/presence-sensor/internal/pwm"
	"github.com/sweeney/presence-sensor/internal/settings"
	"github.com/sweeney/presence-sensor/internal/status"
	"github.com/sweeney/presence-sensor/internal/timesync"
	"github.com/sweeney/presence-sensor/internal/web"
	"github.com/sweeney/presence-sensor/internal/wifi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// notifyBuffer bounds occupancy changes waiting for MQTT and history.
const notifyBuffer = 16

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (compiled defaults when empty)")
	printState := flag.Bool("print-state", false, "Print current sensor level and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging, cfg.Device, version)

	if err := run(cfg, *printState, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, printState bool, logger *slog.Logger) error {
	queue := event.NewQueue(cfg.QueueCapacity, logging.Component(logger, "queue"))

	sensor := gpio.NewRealEdgeSource(gpio.Options{
		Chip:     cfg.Sensor.Chip,
		Pin:      cfg.Sensor.Pin,
		Debounce: cfg.Sensor.Debounce,
		PullUp:   cfg.Sensor.PullUp,
	})
	if printState {
		if err := sensor.Start(queue); err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer sensor.Close()
		level, err := sensor.Level()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("sensor: %s\n", presenceString(level != cfg.Sensor.ActiveLow))
		return nil
	}

	m := metrics.New()
	queue.OnDrop(m.QueueDropped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Indicator LED
	ramper, closeLED, err := openLED(cfg.LED, logging.Component(logger, "led"))
	if err != nil {
		return fmt.Errorf("init led: %w", err)
	}
	defer closeLED()
	engine := indicator.NewEngine(ramper, logging.Component(logger, "indicator"))

	// Persistent settings
	store, err := settings.OpenSQLite(cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer store.Close()
	detection, err := settings.Load(store, logic.DetectionConfig{
		Enabled:            cfg.Detection.Enabled,
		GracePeriodSeconds: uint32(cfg.Detection.GracePeriodSeconds),
	}, logging.Component(logger, "settings"))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	stack := wifi.NewLinuxStack(wifi.Options{
		Interface:    cfg.Network.Interface,
		PollInterval: cfg.Network.PollInterval,
		Logger:       logging.Component(logger, "wifi"),
	})

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Topics: mqtt.Topics{
			Status:       cfg.MQTT.Topics.Status,
			Events:       cfg.MQTT.Topics.Events,
			System:       cfg.MQTT.Topics.System,
			ConfigPrefix: cfg.MQTT.Topics.ConfigPrefix,
		},
		BufferSize: cfg.MQTT.BufferSize,
		Sink:       queue,
		Logger:     logging.Component(logger, "mqtt"),
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	fanout := control.NewFanout(notifyBuffer, logging.Component(logger, "notify"))
	fanout.Add("mqtt", func(_ context.Context, change logic.OccupancyChange) error {
		return publisher.PublishOccupancy(change)
	})
	if recorder := openHistory(cfg, logger); recorder != nil {
		defer recorder.Close()
		fanout.Add("history", recorder.Record)
	}

	syncer := timesync.New(ctx, timesync.Options{
		Servers: cfg.NTP.Servers,
		Logger:  logging.Component(logger, "timesync"),
	})

	dispatcher := control.New(control.Config{
		ActiveLow:  cfg.Sensor.ActiveLow,
		MaxRetries: cfg.Network.MaxRetries,
		Detection:  detection,
	}, control.Deps{
		Queue:     queue,
		Indicator: engine,
		Connector: stack,
		Persister: settings.NewPersister(store),
		Notifier:  fanout,
		TimeSync:  syncer,
		Metrics:   m,
		Logger:    logging.Component(logger, "control"),
	})

	tracker := status.NewTracker(time.Now(), status.Config{
		SensorPin:   cfg.Sensor.Pin,
		ActiveLow:   cfg.Sensor.ActiveLow,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		Interface:   cfg.Network.Interface,
	})
	collector := &status.Collector{
		Tracker:   tracker,
		Source:    dispatcher,
		Publisher: publisher,
		Time:      syncer,
		Dropped:   queue.Dropped,
		Logger:    logging.Component(logger, "status"),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { engine.Run(gctx); return nil })
	g.Go(func() error { fanout.Run(gctx); return nil })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return stack.Run(gctx, queue) })
	g.Go(func() error { collector.Run(gctx); return nil })

	if err := sensor.Start(queue); err != nil {
		cancel()
		g.Wait()
		return fmt.Errorf("init gpio: %w", err)
	}
	defer sensor.Close()

	if !queue.TrySend(event.NetworkConnectRequested{}) {
		logger.Warn("initial connect request dropped")
	}

	// Publish startup event with full status snapshot
	collector.Collect()
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	} else {
		logger.Info("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(web.Options{
			Addr:       cfg.HTTP.Addr,
			Tracker:    tracker,
			Sink:       queue,
			Controller: dispatcher,
			Metrics:    m.Handler(),
			Instrument: m.Instrument,
			Logger:     logging.Component(logger, "web"),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"sensor_pin", cfg.Sensor.Pin,
		"active_low", cfg.Sensor.ActiveLow,
		"broker", cfg.MQTT.Broker,
		"interface", cfg.Network.Interface,
		"heartbeat", cfg.Heartbeat)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runLoop(gctx, publisher, tracker, collector.Collect, time.Now, heartbeat, sigCh, logger)

	cancel()
	return g.Wait()
}

// runLoop publishes heartbeats until a signal arrives or ctx is done. On a
// signal it publishes the SHUTDOWN event.
func runLoop(ctx context.Context, publisher mqtt.Publisher, tracker *status.Tracker, refresh func(), now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Error("background task stopped", "error", context.Cause(ctx))
			return

		case s := <-sig:
			logger.Info("shutting down", "signal", s.String())
			reason := signalName(s)
			refresh()
			snap := tracker.Snapshot()
			ev := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     reason,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
			}
			if err := publisher.PublishSystem(ev); err != nil {
				logger.Warn("failed to publish shutdown event", "error", err)
			} else {
				logger.Info("published shutdown event")
			}
			return

		case <-heartbeat:
			refresh()
			snap := tracker.Snapshot()
			logger.Info("heartbeat",
				"uptime", snap.Uptime().Truncate(time.Second),
				"occupied", snap.Occupied,
				"phase", snap.Network.Phase,
				"events", snap.EventsProcessed,
				"dropped", snap.QueueDropped)
			ev := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(ev); err != nil {
				logger.Warn("heartbeat publish error", "error", err)
			}
		}
	}
}

// openLED returns the LED actuator and a function releasing it. In line mode
// the ceiling is 100% so the on/off threshold is reachable.
func openLED(cfg config.LEDConfig, logger *slog.Logger) (*pwm.Ramper, func(), error) {
	switch cfg.Mode {
	case config.LEDModeLine:
		out, err := gpio.NewRealOutput(cfg.Chip, cfg.Pin)
		if err != nil {
			return nil, nil, err
		}
		r := pwm.NewRamper(pwm.NewLineWriter(out), 100, logger)
		return r, func() {
			r.Close()
			out.Close()
		}, nil
	default:
		ch, err := pwm.OpenSysfsChannel(pwm.DefaultSysfsRoot, cfg.PWMChip, cfg.PWMChannel, cfg.FrequencyHz)
		if err != nil {
			return nil, nil, err
		}
		r := pwm.NewRamper(ch, cfg.MaxDuty, logger)
		return r, func() {
			r.Close()
			ch.Close()
		}, nil
	}
}

// openHistory connects the occupancy recorder. Failures are logged and
// history is skipped.
func openHistory(cfg *config.Config, logger *slog.Logger) *history.Recorder {
	if !cfg.InfluxDB.Enabled {
		return nil
	}
	rec, err := history.Connect(history.Config{
		Enabled:              true,
		URL:                  cfg.InfluxDB.URL,
		Token:                cfg.InfluxDB.Token,
		Org:                  cfg.InfluxDB.Org,
		Bucket:               cfg.InfluxDB.Bucket,
		Device:               cfg.Device,
		BatchSize:            cfg.InfluxDB.BatchSize,
		FlushIntervalSeconds: cfg.InfluxDB.FlushInterval,
	}, logging.Component(logger, "history"))
	if err != nil {
		logger.Warn("occupancy history disabled", "error", err)
		return nil
	}
	return rec
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func presenceString(present bool) string {
	if present {
		return "PRESENT"
	}
	return "ABSENT"
}
