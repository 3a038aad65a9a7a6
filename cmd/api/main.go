package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sunledger/internal/adapter/emhass"
	"sunledger/internal/adapter/homeassistant"
	"sunledger/internal/adapter/modbus"
	"sunledger/internal/adapter/mqtt"
	"sunledger/internal/adapter/storage"
	"sunledger/internal/config"
	"sunledger/internal/core/actor"
	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
	"sunledger/internal/core/service"
	"sunledger/internal/server"
	"sunledger/internal/util/actorutil"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// home model from the home configuration file
	homeFile, err := config.LoadHomeFile(cfg.HomeConfigFile)
	if err != nil {
		logger.Fatal("cannot load home configuration", zap.Error(err))
	}
	registry := service.NewDeviceTypeRegistry(logger)
	if cfg.DeviceTypesFolder != "" {
		if err := registry.Load(cfg.DeviceTypesFolder); err != nil {
			logger.Warn("cannot load device type registry", zap.Error(err))
		}
	}

	// persistence
	sessions, err := storage.NewSessionStore(cfg.DataFolder, logger)
	if err != nil {
		logger.Fatal("cannot open session store", zap.Error(err))
	}
	measurements, err := storage.NewMeasurementStore(cfg.DataFolder, logger)
	if err != nil {
		logger.Fatal("cannot open measurement store", zap.Error(err))
	}

	home, err := service.NewHome(homeFile, sessions, registry, logger)
	if err != nil {
		logger.Fatal("cannot build home", zap.Error(err))
	}

	repository, disconnect, err := buildRepository(cfg, logger)
	if err != nil {
		logger.Fatal("cannot build states repositories", zap.Error(err))
	}
	defer disconnect()

	var optimizer port.Optimizer
	if cfg.Emhass.Enabled {
		optimizer = emhass.NewOptimizer(cfg.Emhass, logger)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, func() pactor.Actor {
			return actor.NewMonitorActor(cfg, home, repository, optimizer, measurements, logger)
		}, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ActorIDMaster)
	if err != nil {
		return
	}

	// daily day-ahead optimization
	var scheduler quartz.Scheduler
	if cfg.Emhass.Enabled {
		scheduler, err = startOptimizeCron(cfg, ctx, pid, logger)
		if err != nil {
			logger.Fatal("cannot schedule optimization", zap.Error(err))
		}
		defer scheduler.Stop()
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

// buildRepository wires the enabled state channels into one repository. The
// returned function tears the channel connections down.
func buildRepository(cfg *config.Config, logger *zap.Logger) (domain.StatesRepository, func(), error) {
	ha := homeassistant.NewRepository(cfg.HomeAssistant, logger)
	repositories := []domain.StatesRepository{ha}
	var teardown []func()

	if cfg.MQTT.Enabled {
		mq := mqtt.NewRepository(cfg.MQTT, logger)
		if err := mq.Connect(); err != nil {
			return nil, nil, err
		}
		repositories = append(repositories, mq)
		teardown = append(teardown, mq.Disconnect)
	}
	if cfg.Modbus.Enabled {
		mb, err := modbus.NewRepository(cfg.Modbus, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := mb.Connect(); err != nil {
			return nil, nil, err
		}
		repositories = append(repositories, mb)
		teardown = append(teardown, mb.Disconnect)
	}

	disconnect := func() {
		for _, fn := range teardown {
			fn()
		}
	}
	return domain.NewStatesMultipleRepositories(repositories...), disconnect, nil
}

func startOptimizeCron(cfg *config.Config, ctx *pactor.RootContext, master *pactor.PID, logger *zap.Logger) (quartz.Scheduler, error) {
	scheduler := quartz.NewStdScheduler()
	scheduler.Start(context.Background())

	trigger, err := quartz.NewCronTrigger(fmt.Sprintf("0 0 %d * * *", cfg.Monitor.OptimizeCronHourUTC))
	if err != nil {
		return nil, err
	}
	optimizeJob := job.NewFunctionJob(func(context.Context) (bool, error) {
		logger.Info("triggering day-ahead optimization")
		ctx.Send(master, domain.OptimizeRequest{})
		return true, nil
	})
	err = scheduler.ScheduleJob(quartz.NewJobDetail(optimizeJob, quartz.NewJobKey("optimize")), trigger)
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => SUNLEDGER_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SUNLEDGER_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("sunledger")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if !cfg.HomeAssistant.DemoMode {
		if cfg.HomeAssistant.URL == "" {
			return nil, errors.New("config param homeassistant.url is required")
		}
		if cfg.HomeAssistant.Token == "" {
			return nil, errors.New("config param homeassistant.token is required")
		}
	}

	// check and fix base topic
	if cfg.MQTT.Enabled {
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic
	}

	// check bounds
	if cfg.Monitor.PollIntervalMillis < 1000 {
		return nil, errors.New("config param monitor.poll_interval_millis should be >= 1000")
	}
	if cfg.Monitor.OptimizeCronHourUTC > 23 {
		return nil, errors.New("config param monitor.optimize_cron_hour_utc should be 0..23")
	}
	if cfg.Emhass.Enabled && cfg.Emhass.URL == "" {
		return nil, errors.New("config param emhass.url is required when emhass is enabled")
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("homeassistant.demo_mode", false)
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.base_topic", "sunledger")
	viper.SetDefault("modbus.enabled", false)
	viper.SetDefault("emhass.enabled", false)
	viper.SetDefault("monitor.poll_interval_millis", 5000)
	viper.SetDefault("monitor.optimize_cron_hour_utc", 3)
	viper.SetDefault("home_config_file", "home.yaml")
	viper.SetDefault("data_folder", "data")
	viper.SetDefault("device_types_folder", "device_types")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.HomeAssistant.Token = "*redacted*"
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
