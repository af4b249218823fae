package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ayusman/speedcam/internal/app"
	"github.com/ayusman/speedcam/internal/config"
	"github.com/ayusman/speedcam/internal/monitoring"
	"github.com/ayusman/speedcam/internal/report"
	"github.com/ayusman/speedcam/internal/server"
	"github.com/ayusman/speedcam/internal/store"
)

const usage = `speedcam - vehicle speed camera

Usage:
  speedcam run     [-config file] [-overlay name] [-listen addr] [-verbose]
  speedcam graph   [-config file] [-overlay name]
  speedcam migrate [-config file] up|down|version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(args)
	case "graph":
		err = graphCmd(args)
	case "migrate":
		err = migrateCmd(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// settingsFlags are shared by every subcommand.
type settingsFlags struct {
	config     string
	overlay    string
	overlayDir string
}

func (f *settingsFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "configs/config.json", "Base configuration file")
	fs.StringVar(&f.overlay, "overlay", "", "Overlay name applied on top of the base configuration")
	fs.StringVar(&f.overlayDir, "overlay-dir", "configs/overlays", "Directory holding overlay files")
}

// load reads the configuration. A missing base file falls back to defaults so a
// fresh install runs without one.
func (f *settingsFlags) load() (*config.Config, error) {
	var overlays []string
	if f.overlay != "" {
		overlays = append(overlays, config.OverlayPath(f.overlayDir, f.overlay))
	}

	if _, err := os.Stat(f.config); errors.Is(err, os.ErrNotExist) && len(overlays) == 0 {
		log.Printf("Config %s not found, using defaults", f.config)
		cfg := config.Empty()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(f.config, overlays...)
}

func openStore(cfg *config.Config, migrateSchema bool) (*store.Store, error) {
	path := cfg.Storage.GetDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if migrateSchema {
		return store.New(path)
	}
	return store.Open(path)
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var sf settingsFlags
	sf.register(fs)
	listen := fs.String("listen", "", "Override the HTTP listen address")
	verbose := fs.Bool("verbose", false, "Log per-frame tracking diagnostics")
	fs.Parse(args)

	cfg, err := sf.load()
	if err != nil {
		return err
	}
	monitoring.SetVerbose(*verbose || cfg.Logging.GetVerbose())

	fmt.Printf("speedcam %s - %s\n", cfg.GetName(), cfg.Camera.GetLocation())

	var st *store.Store
	if cfg.Storage.GetLogToDB() {
		st, err = openStore(cfg, true)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
	}

	var hub *server.Hub
	appCfg := app.Config{Settings: cfg, Store: st}
	if cfg.Server.GetEnabled() {
		hub = server.NewHub()
		appCfg.Notify = func(m app.Measurement) { hub.Broadcast(m) }
	}

	a, err := app.New(appCfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer a.Detector().Close()

	if cfg.Calibration.GetCalibrate() {
		log.Println("Calibration mode: images are saved with hash marks every 10 px and no speeds are logged.")
		log.Println("Measure a known vehicle, then set cal_obj_px_l2r/cal_obj_px_r2l and cal_obj_mm_l2r/cal_obj_mm_r2l and turn calibrate off.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Server.GetEnabled() {
		addr := cfg.Server.GetListen()
		if *listen != "" {
			addr = *listen
		}
		srv := server.New(server.Config{
			StaticDir:  findWebDir(cfg.Server.GetStaticDir()),
			MediaDir:   filepath.Dir(cfg.Image.GetPath()),
			Store:      st,
			Controller: a,
			Preview:    a,
			Hub:        hub,
			Units:      cfg.Motion.GetSpeedUnits(),
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Starting server on %s\n", addr)
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				log.Printf("Server failed: %v", err)
				stop()
			}
		}()
	}

	err = a.Run(ctx)
	stop()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("pipeline stopped: %w", err)
	}
	log.Print("speedcam stopped")
	return nil
}

func graphCmd(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	var sf settingsFlags
	sf.register(fs)
	fs.Parse(args)

	cfg, err := sf.load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	gen := report.NewGenerator(st.Speeds(), cfg.Graphs.GetDir(),
		cfg.Motion.GetSpeedUnits(), cfg.Graphs.GetAddDateToFilename())
	files, err := gen.RunAll(cfg.Graphs.GetRuns())
	for _, f := range files {
		fmt.Println(f)
	}
	return err
}

func migrateCmd(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	var sf settingsFlags
	sf.register(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("migrate needs one of up, down or version")
	}

	cfg, err := sf.load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	switch fs.Arg(0) {
	case "up":
		err = st.MigrateUp()
	case "down":
		err = st.MigrateDown()
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", fs.Arg(0))
	}
	if err != nil {
		return err
	}

	version, dirty, err := st.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

// findWebDir returns configured when set, otherwise searches "web", "../web" and
// "../../web". It returns an empty string if none exists.
func findWebDir(configured string) string {
	if configured != "" {
		return configured
	}

	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}
	return ""
}
