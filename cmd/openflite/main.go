package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/openflite/openflite"
	"github.com/openflite/openflite/api"
	"github.com/openflite/openflite/mqtt"
	"github.com/openflite/openflite/telemetry"
)

const flashTimeout = 2 * time.Minute

var (
	Version string
	Build   string

	configPath  = flag.String("config", "/etc/openflite/config.yaml", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "install system service")
	flagDebug   = flag.Bool("debug", false, "enable debug logging")

	flashFirmware = flag.String("flash", "", "path to a firmware hex file; flashes the board and exits")
	flashBoard    = flag.String("board", "mega", "board model to flash (mega, promicro, nano)")
	flashPort     = flag.String("port", "", "serial port of the board to flash")

	bridgeService = servicemaker.ServiceMaker{
		User:               "openflite",
		UserGroups:         []string{"dialout", "gpio"},
		ServicePath:        "/etc/systemd/system/openflite.service",
		ServiceDescription: "openflite service: cockpit hardware to flight simulator bridge",
		ExecDir:            "/srv/openflite",
		ExecName:           "openflite",
	}
)

// appConfig is the config file layout: bridge settings at the top level,
// one optional section per service.
type appConfig struct {
	Core openflite.Core `mapstructure:",squash"`

	Api       *api.Server         `mapstructure:"api"`
	Mqtt      *mqtt.Service       `mapstructure:"mqtt"`
	Telemetry *telemetry.Recorder `mapstructure:"telemetry"`
}

func main() {
	flag.Parse()

	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("openflite starting", "version", Version, "build", Build)

	if *flagInstall {
		if err := bridgeService.InstallService(); err != nil {
			log.Fatal("service install failed", "err", err)
		}
		log.Info("service installed")
		return
	}

	if *flashFirmware != "" {
		flash()
		return
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("configuration failed", "err", err)
	}

	core := &config.Core
	if err := core.Init(); err != nil {
		log.Fatal("bridge init failed", "err", err)
	}
	defer core.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if config.Api != nil {
		go func() {
			if err := config.Api.Run(ctx, core); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("api server stopped", "err", err)
			}
		}()
	}
	if config.Mqtt != nil {
		go func() {
			if err := config.Mqtt.Run(ctx, core); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("mqtt service stopped", "err", err)
			}
		}()
	}
	if config.Telemetry != nil {
		go func() {
			if err := config.Telemetry.Run(ctx, core); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("telemetry recorder stopped", "err", err)
			}
		}()
	}

	core.PrintStatus(os.Stdout)

	if err := core.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("bridge stopped", "err", err)
	}

	log.Info("openflite shutting down")
}

func loadConfig(path string) (*appConfig, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("OPENFLITE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		log.Warn("config file not found, starting with defaults", "path", path)
	}

	config := &appConfig{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	return config, nil
}

func flash() {
	model, err := openflite.BoardModelFor(*flashBoard)
	if err != nil {
		log.Fatal("unknown board model", "err", err)
	}
	if *flashPort == "" {
		log.Fatal("flashing requires -port")
	}
	if !openflite.AvrdudeAvailable() {
		log.Fatal("avrdude not found in PATH")
	}

	log.Info("flashing firmware", "board", model.Label, "port", *flashPort, "firmware", *flashFirmware)

	ctx, cancel := context.WithTimeout(context.Background(), flashTimeout)
	defer cancel()

	err = openflite.FlashFirmware(ctx, model, *flashPort, *flashFirmware, func(percent int) {
		log.Info("flashing", "progress", fmt.Sprintf("%d%%", percent))
	})
	if err != nil {
		log.Fatal("flashing failed", "err", err)
	}

	log.Info("flashing done", "board", model.Label)
}
