// Bendulum clock calibration service

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/bendulum-clock/base/zaplog"

	"example.com/bendulum-clock/benchmark"

	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/core/runmode"

	"example.com/bendulum-clock/driver/clock"
	"example.com/bendulum-clock/driver/eeprom"
	"example.com/bendulum-clock/driver/jumper"
	"example.com/bendulum-clock/driver/remote"
	"example.com/bendulum-clock/driver/shield"
	"example.com/bendulum-clock/driver/sim"
)

const (
	defaultSettingsFile = "/var/lib/bendulumclock/settings.bin"
	defaultRemoteAddr   = "0.0.0.0:4460"
	defaultMetricsAddr  = "127.0.0.1:8080"
)

type svcConfig struct {
	SerialPort   string `toml:"serial_port,omitempty"`
	SerialBaud   int    `toml:"serial_baud,omitempty"`
	SettingsFile string `toml:"settings_file,omitempty"`
	RemoteAddr   string `toml:"remote_address,omitempty"`
	MetricsAddr  string `toml:"metrics_address,omitempty"`
	ColdStartPin string `toml:"cold_start_pin,omitempty"`

	TemperatureCompensated bool `toml:"temperature_compensated,omitempty"`
	RTCCalibration         bool `toml:"rtc_calibration,omitempty"`

	SettleBeats              int     `toml:"settle_beats,omitempty"`
	ScaleStableBeats         int     `toml:"scale_stable_beats,omitempty"`
	CalibrationTargetSamples int     `toml:"calibration_target_samples,omitempty"`
	CalibrationMinBeats      int     `toml:"calibration_min_beats,omitempty"`
	CalibrationMaxBeats      int     `toml:"calibration_max_beats,omitempty"`
	ConvergenceTolerance     float64 `toml:"convergence_tolerance,omitempty"`
	ConvergenceRun           int     `toml:"convergence_run,omitempty"`
	PollIntervalMs           int     `toml:"poll_interval_ms,omitempty"`

	SimBeatPeriodMs int     `toml:"sim_beat_period_ms,omitempty"`
	SimTempCoeffPPM float64 `toml:"sim_temp_coeff_ppm,omitempty"`
	SimSkewPPM      float64 `toml:"sim_skew_ppm,omitempty"`
	SimJitterPPM    float64 `toml:"sim_jitter_ppm,omitempty"`
	SimAmbientC     float64 `toml:"sim_ambient_c,omitempty"`
}

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(log *zap.Logger, addr string) {
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	var cfg svcConfig
	err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		log.Fatal("failed to decode configuration", zap.Error(err))
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = defaultSettingsFile
	}
	if cfg.RemoteAddr == "" {
		cfg.RemoteAddr = defaultRemoteAddr
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	return cfg
}

func engineConfig(cfg svcConfig, coldStart bool) engine.Config {
	return engine.Config{
		TemperatureCompensated:   cfg.TemperatureCompensated,
		SupportsRTCCalibration:   cfg.RTCCalibration,
		ColdStart:                coldStart,
		SettleBeats:              cfg.SettleBeats,
		ScaleStableBeats:         cfg.ScaleStableBeats,
		CalibrationTargetSamples: cfg.CalibrationTargetSamples,
		CalibrationMinBeats:      cfg.CalibrationMinBeats,
		CalibrationMaxBeats:      cfg.CalibrationMaxBeats,
		ConvergenceTolerance:     cfg.ConvergenceTolerance,
		ConvergenceRun:           cfg.ConvergenceRun,
		PollInterval:             time.Duration(cfg.PollIntervalMs) * time.Millisecond,
	}
}

func runService(configFile string) {
	cfg := loadConfig(configFile)
	if cfg.SerialPort == "" {
		log.Fatal("no serial port configured")
	}

	lclk := &clock.SystemClock{Log: log}

	sh, err := shield.Open(log, shield.Config{
		Port: cfg.SerialPort,
		Baud: cfg.SerialBaud,
	})
	if err != nil {
		log.Fatal("failed to open shield", zap.Error(err))
	}
	defer sh.Close()

	ctx := context.Background()
	intents, err := remote.StartListener(ctx, log, cfg.RemoteAddr)
	if err != nil {
		log.Fatal("failed to start intent listener", zap.Error(err))
	}

	coldStart := jumper.ColdStartRequested(log, cfg.ColdStartPin)
	store := eeprom.NewStore(log, cfg.SettingsFile)

	eng := engine.New(log, lclk, engineConfig(cfg, coldStart), sh, sh, store, intents, sh)

	go runMonitor(log, cfg.MetricsAddr)

	err = eng.Run(ctx)
	log.Fatal("engine stopped", zap.Error(err))
}

// logFeedback stands in for the shield's indicator when no hardware is
// attached.
type logFeedback struct {
	log *zap.Logger
}

func (f *logFeedback) Mode(m runmode.Mode) {
	f.log.Info("feedback", zap.Stringer("mode", m))
}

func (f *logFeedback) Flash() {
	f.log.Info("feedback flash")
}

func runSim(configFile string, coldStart bool) {
	cfg := loadConfig(configFile)

	lclk := &clock.SystemClock{Log: log}

	bend := sim.NewBendulum(log, sim.BendulumConfig{
		TruePeriod:   time.Duration(cfg.SimBeatPeriodMs) * time.Millisecond,
		TempCoeffPPM: cfg.SimTempCoeffPPM,
		SkewPPM:      cfg.SimSkewPPM,
		JitterPPM:    cfg.SimJitterPPM,
		AmbientC:     cfg.SimAmbientC,
	})

	ctx := context.Background()
	intents, err := remote.StartListener(ctx, log, cfg.RemoteAddr)
	if err != nil {
		log.Fatal("failed to start intent listener", zap.Error(err))
	}

	store := eeprom.NewStore(log, cfg.SettingsFile)

	// One beat per poll: the simulation runs much faster than real time.
	eng := engine.New(log, lclk, engineConfig(cfg, coldStart),
		bend, &sim.Movement{}, store, intents, &logFeedback{log: log})

	go runMonitor(log, cfg.MetricsAddr)

	err = eng.Run(ctx)
	log.Fatal("engine stopped", zap.Error(err))
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		coldStart  bool
		numEngines int
		numBeats   int
	)

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	simFlags := flag.NewFlagSet("sim", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.StringVar(&configFile, "config", "", "Config file")

	simFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	simFlags.StringVar(&configFile, "config", "", "Config file")
	simFlags.BoolVar(&coldStart, "cold", false, "Discard stored settings")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.IntVar(&numEngines, "engines", 1, "Number of concurrent engines")
	benchmarkFlags.IntVar(&numBeats, "beats", 1_000_000, "Number of beats per engine")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runService(configFile)
	case simFlags.Name():
		err := simFlags.Parse(os.Args[2:])
		if err != nil || simFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runSim(configFile, coldStart)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		benchmark.RunEngineBenchmark(numEngines, numBeats)
	case "x":
		runX()
	default:
		exitWithUsage()
	}
}
