package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"periph.io/x/host/v3"

	"github.com/banshee-data/gatetimer/internal/api"
	"github.com/banshee-data/gatetimer/internal/config"
	"github.com/banshee-data/gatetimer/internal/filter"
	"github.com/banshee-data/gatetimer/internal/lapdb"
	"github.com/banshee-data/gatetimer/internal/node"
	"github.com/banshee-data/gatetimer/internal/rssi"
	"github.com/banshee-data/gatetimer/internal/rx5808"
	"github.com/banshee-data/gatetimer/internal/serialmux"
	"github.com/banshee-data/gatetimer/internal/timing"
	"github.com/banshee-data/gatetimer/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON timer config (defaults apply when empty)")
	port        = flag.String("port", "", "Serial port for the node link (overrides serial_port; empty disables the link)")
	listen      = flag.String("listen", "localhost:8080", "HTTP listen address")
	replay      = flag.String("replay", "", "Read RSSI counts from this trace file instead of the ADC")
	replayLoop  = flag.Bool("loop", false, "Restart the replay trace when it ends")
	noRX5808    = flag.Bool("no-rx5808", false, "Do not drive the receiver; tune requests only update state")
	dbFile      = flag.String("db", "", "Path to the lap journal (overrides lap_db_path; empty disables it)")
	verbose     = flag.Bool("verbose", false, "Log sampler loop statistics")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const (
	reportEvery     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("gatetimer %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := config.DefaultTimerConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadTimerConfig(*configFile); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	applyFlagOverrides(cfg, *port, *dbFile)

	if *replay == "" {
		if _, err := host.Init(); err != nil {
			log.Fatalf("failed to initialise periph host drivers: %v", err)
		}
	}

	tuner, err := openTuner(cfg, *noRX5808 || *replay != "")
	if err != nil {
		log.Fatalf("failed to set up receiver: %v", err)
	}
	if err := tuneStartup(tuner, cfg); err != nil {
		log.Fatalf("failed to tune receiver: %v", err)
	}
	log.Printf("receiver on %d MHz", tuner.Frequency())

	core := timing.NewCore(coreConfig(cfg), nil, tuner)
	core.SetActivated(cfg.GetActivateOnStart())

	src, err := openSource(cfg, *replay, *replayLoop)
	if err != nil {
		log.Fatalf("failed to open RSSI source: %v", err)
	}
	sampler := timing.NewSampler(core, src, filter.NewKalman(cfg.GetFilterQ(), cfg.GetFilterR()), timing.SamplerConfig{
		Interval:    cfg.GetSampleInterval(),
		ReportEvery: reportEvery,
		Verbose:     *verbose,
	})

	nodeSession := node.New(core, node.DefaultIdentity())

	link, err := openLink(cfg)
	if err != nil {
		log.Fatalf("failed to open node link: %v", err)
	}
	defer link.Close()

	opts := api.Options{Sampler: sampler, Node: nodeSession, Link: link, Receiver: tuner}

	var journal *lapdb.DB
	var recorder *lapdb.Recorder
	if path := cfg.GetLapDBPath(); path != "" {
		journal, err = lapdb.Open(path)
		if err != nil {
			log.Fatalf("failed to open lap journal: %v", err)
		}
		defer journal.Close()

		session, err := journal.StartSession(core.Frequency())
		if err != nil {
			log.Fatalf("failed to start journal session: %v", err)
		}
		recorder = lapdb.NewRecorder(journal, session, lapdb.DefaultRecorderBuffer)
		defer core.Subscribe(recorder)()
		opts.Recorder = recorder
		log.Printf("journalling session %s to %s", session, path)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sampler stopped: %v", err)
		}
		log.Print("sampler routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Serve(ctx, nodeSession); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("node link stopped: %v", err)
		}
		log.Print("link routine terminated")
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
			log.Print("journal routine terminated")
		}()
	}

	apiServer := api.NewServer(core, opts)
	defer apiServer.Close()
	expvar.Publish("gatetimer", expvar.Func(apiServer.Diagnostics))

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		link.AttachAdminRoutes(mux)
		if journal != nil {
			journal.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// applyFlagOverrides lets -port and -db win over the config file.
func applyFlagOverrides(cfg *config.TimerConfig, port, db string) {
	if port != "" {
		cfg.SerialPort = &port
	}
	if db != "" {
		cfg.LapDBPath = &db
	}
}

func coreConfig(cfg *config.TimerConfig) timing.Config {
	return timing.Config{
		EnterRSSI:   cfg.GetEnterRSSI(),
		ExitRSSI:    cfg.GetExitRSSI(),
		MinLap:      cfg.GetMinLap(),
		LockTimeout: cfg.GetLockTimeout(),
	}
}

// openTuner returns a receiver driver on the configured pins, or on lines
// that drive nothing when disabled.
func openTuner(cfg *config.TimerConfig, disabled bool) (*rx5808.Tuner, error) {
	pins := rx5808.NopPins()
	if !disabled {
		p := cfg.GetRX5808Pins()
		var err error
		if pins, err = rx5808.OpenPins(p.Data, p.Clock, p.Select); err != nil {
			return nil, err
		}
	}
	tuner := rx5808.NewTuner(pins, nil)
	if err := tuner.Setup(); err != nil {
		return nil, err
	}
	return tuner, nil
}

// tuneStartup tunes the configured band and channel, or the configured
// frequency when no table entry is set.
func tuneStartup(t *rx5808.Tuner, cfg *config.TimerConfig) error {
	if band, ch, ok := cfg.GetBandChannel(); ok {
		return t.SetBandChannel(band, ch)
	}
	return t.Tune(cfg.GetFrequency())
}

// openSource picks the RSSI source: a replay trace when one is given,
// otherwise the configured converter, with block averaging on top.
func openSource(cfg *config.TimerConfig, replayPath string, loop bool) (rssi.Source, error) {
	var src rssi.Source
	if replayPath != "" {
		r, err := rssi.OpenReplay(replayPath, loop)
		if err != nil {
			return nil, err
		}
		log.Printf("replaying %d samples from %s", r.Len(), replayPath)
		src = r
	} else {
		adc := cfg.GetADC()
		switch adc.Driver {
		case config.ADCDriverIIO:
			src = rssi.NewIIOSource(adc.Path, adc.Bits)
		default:
			s, err := rssi.OpenADS1115(adc.Bus, adc.Channel)
			if err != nil {
				return nil, err
			}
			src = s
		}
	}
	if n := cfg.GetADCAverage(); n > 1 {
		src = rssi.NewAveragingSource(src, n)
	}
	return src, nil
}

// openLink opens the serial node link, or a disabled link that still
// accepts injected bytes when no port is configured.
func openLink(cfg *config.TimerConfig) (serialmux.SerialMuxInterface, error) {
	path := cfg.GetSerialPort()
	if path == "" {
		log.Printf("no serial port configured, node link disabled")
		return serialmux.NewDisabledSerialMux(), nil
	}
	opts, err := cfg.GetSerialOptions().Normalize()
	if err != nil {
		return nil, err
	}
	link, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("node link on %s at %s", path, opts)
	return link, nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nRSSI lap timer node.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
}
