package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/UiS-Subsea/rov-bridge/domain/diagnostic"
	"github.com/UiS-Subsea/rov-bridge/domain/rov"
	"github.com/UiS-Subsea/rov-bridge/pkg/api"
	"github.com/UiS-Subsea/rov-bridge/pkg/broadcast"
	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/controller"
	customlog "github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/mqtt"
	"github.com/UiS-Subsea/rov-bridge/pkg/network"
	"github.com/UiS-Subsea/rov-bridge/pkg/processing"
	"github.com/UiS-Subsea/rov-bridge/pkg/translation"
	"github.com/UiS-Subsea/rov-bridge/pkg/zeromq"
	"github.com/UiS-Subsea/rov-bridge/services"
)

// inboundBuffer is the number of raw telemetry chunks buffered between the
// transport and the decoder.
const inboundBuffer = 64

const shutdownTimeout = 5 * time.Second

func main() {
	configDir := flag.String("config", "config", "directory containing bridge_config.yaml")
	flag.Parse()

	bootstrapCfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load bootstrap config: %v\n", err)
		os.Exit(1)
	}

	logger, err := customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(bootstrapCfg, logger); err != nil {
		logger.Fatalf("Bridge stopped with error: %v", err)
	}
	logger.Infof("Bridge exited properly")
}

func run(bootstrapCfg *config.BootstrapConfig, logger customlog.Logger) error {
	configService, err := services.NewBridgeConfigService(bootstrapCfg.OperationalConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to create config service: %w", err)
	}
	cfg := configService.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("operational config %s could not be loaded", bootstrapCfg.OperationalConfigPath())
	}

	modeService := services.NewModeService(logger)
	queue := command.NewQueue()
	inbound := make(chan network.Chunk, inboundBuffer)

	heartbeat, err := translation.HeartbeatFrameFor(bootstrapCfg.Vehicle.HeartbeatFormat)
	if err != nil {
		return fmt.Errorf("invalid vehicle config: %w", err)
	}

	// Vehicle transport
	client := network.NewClient(network.ClientConfig{
		Address:           bootstrapCfg.VehicleAddr(),
		RetryDelay:        bootstrapCfg.RetryDelay(),
		HeartbeatInterval: bootstrapCfg.HeartbeatInterval(),
		ReadBufferSize:    bootstrapCfg.Vehicle.ReadBufferSize,
		Heartbeat:         heartbeat,
	}, inbound, logger)

	var telemetryServer *network.Server
	if bootstrapCfg.Telemetry.ListenAddress != "" {
		telemetryServer = network.NewServer(network.ServerConfig{
			ListenAddress:  bootstrapCfg.Telemetry.ListenAddress,
			ReadBufferSize: bootstrapCfg.Vehicle.ReadBufferSize,
		}, inbound, logger)
	}

	consumer := rov.NewCommandService(queue, client, logger)

	// Telemetry pipeline
	channels := processing.NewChannelRegistry(logger)
	channels.LoadFromConfig(cfg)
	configService.AddListener(func(c *config.Config) {
		channels.LoadFromConfig(c)
	})

	director := processing.NewMessageDirector(logger.WithField(customlog.ComponentField, "director"), channels, &processing.DirectorOptions{
		QueueSize:       bootstrapCfg.Processing.QueueSize,
		HighWorkers:     bootstrapCfg.Processing.BroadcastWorkers,
		StandardWorkers: bootstrapCfg.Processing.MirrorWorkers,
		LowWorkers:      bootstrapCfg.Processing.MirrorWorkers,
	})
	decoder := translation.NewStreamDecoder(bootstrapCfg.Telemetry.RemainderLimit, logger.WithField(customlog.ComponentField, "decoder"))
	processor := processing.NewTelemetryProcessor(logger, decoder, director)

	// Observers
	observers := broadcast.NewServer(broadcast.Config{
		Path:         bootstrapCfg.Observer.Path,
		CloseTimeout: bootstrapCfg.ObserverCloseTimeout(),
	}, logger)
	broadcast.RegisterCommandHandlers(observers, queue, modeService)
	if err := director.AddSink(processing.PriorityHigh, "observers", processing.NewBroadcastSink(observers)); err != nil {
		return err
	}

	// Autonomy source and mirrors
	zmqService, err := zeromq.NewZeroMQService(bootstrapCfg.ZeroMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to start ZeroMQ service: %w", err)
	}
	defer zmqService.Close()
	zeromq.RegisterAutonomHandler(zmqService, queue, logger)
	if _, err := zeromq.RegisterTelemetryMirror(zmqService, director, logger); err != nil {
		return err
	}

	var mqttMirror *mqtt.Mirror
	if bootstrapCfg.MQTT.Enabled {
		mqttMirror = mqtt.NewMirror(bootstrapCfg.MQTT, logger)
		if err := mqttMirror.Register(director); err != nil {
			return err
		}
		mqttMirror.Connect()
		defer mqttMirror.Close()
	}

	// Controllers
	controllerRegistry := controller.NewRegistry()
	source := controller.NewJoystickSource(controller.HatAxesFromConfig(cfg))
	rovController, maniController := controller.SetupControllers(cfg, source, controllerRegistry, logger)
	poller := controller.NewPoller(rovController, maniController, modeService, queue, cfg.PollInterval(), logger)

	diagnosticService := diagnostic.NewDiagnosticService(diagnostic.Sources{
		VehicleID: func() string {
			if c := configService.GetCurrentConfig(); c != nil {
				return c.VehicleID
			}
			return ""
		},
		Mode:      modeService,
		Command:   client,
		Telemetry: telemetryLink(telemetryServer),
		Queue:     queue,
		Consumer:  consumer,
		Observers: observers,
		Decoder:   decoder,
		Director:  director,
		Registry:  controllerRegistry,
		Autonom:   zmqService,
	})

	// HTTP
	app := fiber.New(fiber.Config{
		AppName:               "ROV Bridge",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "rov bridge",
			"mode":    modeService.Mode(),
		})
	})
	app.Get("/health", diagnosticService.HealthHandler)
	app.Get("/api/diagnostics", diagnosticService.GetMetricsHandler)
	api.RegisterRovRoutes(app, queue, modeService, bootstrapCfg.Server.TriggerRateLimit, bootstrapCfg.Server.TriggerBurst, logger)
	api.RegisterConfigRoutes(app, configService, logger)
	observers.Start(app)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	director.Start()
	defer director.Stop()

	g.Go(func() error { return client.Run(ctx) })
	if telemetryServer != nil {
		g.Go(func() error { return telemetryServer.Run(ctx) })
	}
	g.Go(func() error { return processor.Run(ctx, inbound) })
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return zmqService.Run(ctx) })
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", bootstrapCfg.Server.HTTPPort)
		logger.Infof("HTTP server starting on %s", addr)
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Infof("Shutting down bridge...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := observers.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		queue.Close()
		return errors.Join(errs...)
	})

	logger.Infof("Bridge running for vehicle %s at %s", cfg.VehicleID, bootstrapCfg.VehicleAddr())
	return g.Wait()
}

// telemetryLink avoids handing a typed nil server to the diagnostics.
func telemetryLink(s *network.Server) diagnostic.Link {
	if s == nil {
		return nil
	}
	return s
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
