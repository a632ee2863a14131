package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"arraymon/internal/aggregator"
	"arraymon/internal/calibration"
	"arraymon/internal/config"
	"arraymon/internal/dispatch"
	"arraymon/internal/httpapi"
	"arraymon/internal/mirror"
	"arraymon/internal/mqtt"
	"arraymon/internal/scheduler"
	"arraymon/internal/sensor"
	"arraymon/internal/types"
	"arraymon/internal/webbox"
)

const (
	taskQueueSize = 4
	drainTimeout  = 10 * time.Second
)

// Run wires the monitor and blocks until ctx is cancelled. The excitation
// bias is zeroed before it returns.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dataDir", cfg.DataDir,
		"storeDriver", cfg.Store.Driver,
		"archiveSource", cfg.Archive.Source,
		"dispatchMode", cfg.Queue.Mode,
		"mqttBroker", cfg.MQTT.Broker,
		"webboxURL", cfg.Webbox.URL,
	)

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close", "error", err)
		}
	}()

	corrector := calibration.New(cfg.CalibrationDir(), sensor.IrradianceChannels, logger.With("component", "calibration"))
	if err := corrector.Load(); err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}

	device := sensor.NewPeriphDevice(sensor.PeriphConfig{
		Bus:          cfg.DAQ.I2CBus,
		ADCAddresses: cfg.DAQ.ADCAddresses,
		DACAddress:   cfg.DAQ.DACAddress,
		SampleRateHz: cfg.DAQ.SampleRateHz,
	})
	if err := device.SetBias(cfg.DAQ.BiasVolts); err != nil {
		logger.Error("excitation bias not applied", "volts", cfg.DAQ.BiasVolts, "error", err)
	}
	releaseDevice := sync.OnceFunc(func() {
		if err := device.SetBias(0); err != nil {
			logger.Error("excitation bias not zeroed", "error", err)
		} else {
			logger.Info("excitation bias zeroed")
		}
		if err := device.Close(); err != nil {
			logger.Warn("device close", "error", err)
		}
	})
	defer releaseDevice()

	faults := sensor.NewFaults()
	acquirer := sensor.NewAcquirer(device, corrector, faults, logger.With("component", "sensor"), sensor.Options{
		Samples: cfg.DAQ.Samples,
		Timeout: cfg.DAQ.ReadTimeout,
	})
	poller := webbox.New(cfg.Webbox.URL, cfg.Webbox.Timeout, logger.With("component", "webbox"))
	days := mirror.NewDayWriter(cfg.MirrorDir())

	sinks := []scheduler.Sink{
		{Name: "store", Write: st.AppendProducer},
		{Name: "mirror", Write: func(_ context.Context, r []types.AggregatedRecord) error { return days.Append(r) }},
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled() {
		publisher = mqtt.NewPublisher(cfg.MQTT, cfg.SiteID, logger.With("component", "mqtt"))
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err := publisher.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing, paho keeps retrying)", "error", err)
		}
		defer publisher.Disconnect()
		sinks = append(sinks, scheduler.Sink{
			Name:  "mqtt",
			Write: func(_ context.Context, r []types.AggregatedRecord) error { return publisher.PublishBatch(r) },
		})
	}

	deps := IngestDeps{Store: st}
	if publisher != nil {
		deps.Announcer = publisher
	}
	bg, err := NewBackground(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer bg.Close()

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	dispatcher, err := newDispatcher(workCtx, cfg, bg, logger)
	if err != nil {
		return err
	}

	mux := httpapi.NewMux(httpapi.Deps{
		Store:  st,
		Faults: faults,
		Ingest: func() string { return bg.Pipeline.State().String() },
		Logger: logger,
	})
	srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger.With("component", "http"))
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	report := cfg.Report
	sched := scheduler.New(scheduler.Config{
		Sampler:           acquirer,
		Poller:            poller,
		Window:            aggregator.New(),
		Calibration:       corrector,
		Sinks:             sinks,
		Dispatcher:        dispatcher,
		CalibrationHour:   cfg.CalibrationHour,
		CalibrationMinute: cfg.CalibrationMinute,
		Report:            &report,
		Logger:            logger,
	})

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- sched.Run(loopCtx) }()

	var runErr error
	select {
	case runErr = <-loopErr:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http: %w", err)
		}
		// The loop owns the device; it must stop before the deferred
		// bias reset runs.
		stopLoop()
		<-loopErr
	}

	shutdown(logger, releaseDevice, cancelWork, dispatcher, drainTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	return runErr
}

// shutdown runs once the loop has stopped. The device goes first so a task
// stuck on the network cannot keep the bias applied.
func shutdown(logger *slog.Logger, releaseDevice func(), cancelWork context.CancelFunc, d dispatch.Dispatcher, drain time.Duration) {
	releaseDevice()
	cancelWork()

	logger.Info("dispatcher closing")
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := dispatch.Shutdown(ctx, d); err != nil {
		logger.Warn("dispatcher close", "error", err)
	}
}

func newDispatcher(ctx context.Context, cfg config.Config, bg *Background, logger *slog.Logger) (dispatch.Dispatcher, error) {
	switch cfg.Queue.Mode {
	case "amqp":
		conn, err := amqp.Dial(cfg.Queue.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		pub, err := dispatch.NewAMQPPublisher(conn, cfg.Queue.Exchange, logger)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		return connClosing{Dispatcher: pub, conn: conn}, nil
	default:
		return dispatch.NewPool(ctx, cfg.Queue.Workers, taskQueueSize, bg.Router().Handle, logger), nil
	}
}

// connClosing closes the AMQP connection along with its channel.
type connClosing struct {
	dispatch.Dispatcher
	conn *amqp.Connection
}

func (c connClosing) Close() error {
	return errors.Join(c.Dispatcher.Close(), c.conn.Close())
}
