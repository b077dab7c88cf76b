package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rover/internal/api"
	"github.com/banshee-data/rover/internal/camera"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/gamepad"
	"github.com/banshee-data/rover/internal/modes"
	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/orchestrator"
	"github.com/banshee-data/rover/internal/rpc"
	"github.com/banshee-data/rover/internal/seriallink"
	"github.com/banshee-data/rover/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON rover config (built-in defaults when empty)")
	envFile       = flag.String("env-file", ".env", "Optional .env file loaded before the config")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", ":50051", "gRPC health listen address")
	port          = flag.String("port", seriallink.DefaultPortPath, "Serial port of the sensor microcontroller (ignored in dev mode)")
	dbPath        = flag.String("db-path", "rover.db", "Path to the telemetry journal")
	devMode       = flag.Bool("dev", false, "Run against simulated motors, sensors and gamepad")
	disableCamera = flag.Bool("disable-camera", false, "Do not signal the camera pipeline")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// flagFields maps command-line flags onto the config fields they override.
var flagFields = map[string]func(*config.RoverConfig) **string{
	"listen":      func(c *config.RoverConfig) **string { return &c.Listen },
	"grpc-listen": func(c *config.RoverConfig) **string { return &c.GRPCListen },
	"port":        func(c *config.RoverConfig) **string { return &c.SerialPort },
	"db-path":     func(c *config.RoverConfig) **string { return &c.DBPath },
}

// loadConfig layers the JSON file (if any) over the defaults and the
// environment over that. Flags are applied afterwards by applyFlags.
func loadConfig(path, envPath string) (*config.RoverConfig, error) {
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	cfg := config.EmptyRoverConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadRoverConfig(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// applyFlags copies explicitly set flags into cfg. visit is flag.Visit or a
// FlagSet's Visit method.
func applyFlags(cfg *config.RoverConfig, visit func(func(*flag.Flag))) {
	visit(func(f *flag.Flag) {
		field, ok := flagFields[f.Name]
		if !ok {
			return
		}
		v := f.Value.String()
		*field(cfg) = &v
	})
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "motor-test" {
		if err := motorTestMain(os.Args[2:]); err != nil {
			log.Fatalf("motor test failed: %v", err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, flag.Visit)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("rover %s starting", version.Get())
	if err := run(ctx, cfg, *devMode, !*disableCamera); err != nil {
		log.Fatalf("rover: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// openThrottler returns the motor HAT, or an in-memory throttler in dev mode,
// along with the function that releases it.
func openThrottler(cfg *config.RoverConfig, dev bool) (motor.Throttler, func() error, error) {
	if dev {
		log.Printf("dev mode: motor commands are recorded, not sent")
		return motor.NewRecordingThrottler(), func() error { return nil }, nil
	}
	hat, err := motor.NewHAT(cfg.GetI2CBus(), cfg.GetHATAddress())
	if err != nil {
		return nil, nil, err
	}
	return hat, hat.Close, nil
}

// buildLoops wires the control loops to real hardware, or to scripted
// sensors and a scripted gamepad in dev mode.
func buildLoops(cfg *config.RoverConfig, drive *motor.Drive, dev bool) orchestrator.Loops {
	loops := orchestrator.Loops{
		Deps: modes.Deps{Drive: drive},
		NewLink: func(orchestrator.Mode) modes.FrameSource {
			return seriallink.NewLink(seriallink.OpenRealPort)
		},
		Gamepad:  gamepad.Open,
		Obstacle: cfg.GetObstacleConfig(),
		Line:     cfg.GetLineConfig(),
		Manual:   cfg.GetManualConfig(),
	}
	if dev {
		loops.NewLink = devLink
		loops.Gamepad = devGamepad(loops.Manual)
	}
	return loops
}

func newSignaler(cfg *config.RoverConfig) (camera.Signaler, error) {
	broker := cfg.GetMQTTBroker()
	if broker == "" {
		log.Printf("no MQTT broker configured, camera signals will only be logged")
		return camera.LogSignaler{}, nil
	}
	return camera.NewMQTTSignaler(camera.MQTTConfig{
		Broker:      broker,
		ClientID:    cfg.GetMQTTClientID(),
		Username:    cfg.GetMQTTUsername(),
		Password:    cfg.GetMQTTPassword(),
		TopicPrefix: cfg.GetMQTTTopicPrefix(),
	})
}

func run(ctx context.Context, cfg *config.RoverConfig, dev, withCamera bool) error {
	hw, releaseHW, err := openThrottler(cfg, dev)
	if err != nil {
		return fmt.Errorf("failed to open motors: %w", err)
	}
	defer func() {
		if err := releaseHW(); err != nil {
			log.Printf("failed to release motors: %v", err)
		}
	}()

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()
	journal := db.NewJournal(store, cfg.GetJournalBuffer(), nil)
	defer journal.Close()

	drive := motor.NewDrive(hw, motor.WithObserver(journal))
	drive.Stop()

	health := rpc.NewHealth()
	orch := orchestrator.New(drive, buildLoops(cfg, drive, dev).Factory(),
		orchestrator.WithJoinTimeout(cfg.GetJoinTimeout()),
		orchestrator.WithListener(journal),
		orchestrator.WithListener(health),
	)
	defer func() {
		if err := orch.Close(); err != nil {
			log.Printf("failed to stop active mode: %v", err)
		}
	}()

	var cam api.Camera
	if withCamera {
		sig, err := newSignaler(cfg)
		if err != nil {
			return err
		}
		supervisor := camera.NewSupervisor(sig)
		defer supervisor.Close()
		cam = supervisor
	}

	grpcServer := rpc.NewServer(cfg.GetGRPCListen(), health)
	if err := grpcServer.Start(); err != nil {
		return err
	}
	defer grpcServer.Stop()

	mux := api.NewServer(orch, cam, store).ServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, &http.Server{Addr: cfg.GetListen(), Handler: api.LoggingMiddleware(mux)})
	}()

	<-ctx.Done()
	log.Printf("shutting down, stopping motors")
	if err := orch.StopAll(); err != nil {
		log.Printf("failed to stop active mode: %v", err)
	}
	wg.Wait()
	return nil
}

// serveHTTP runs server until ctx is cancelled.
func serveHTTP(ctx context.Context, server *http.Server) {
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
