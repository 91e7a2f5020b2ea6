package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/siphog/internal/broadcast"
	"github.com/banshee-data/siphog/internal/config"
	"github.com/banshee-data/siphog/internal/db"
	"github.com/banshee-data/siphog/internal/device"
	"github.com/banshee-data/siphog/internal/history"
	"github.com/banshee-data/siphog/internal/serialmux"
	"github.com/banshee-data/siphog/internal/version"
)

const statusInterval = 10 * time.Second

// cliFlags holds the command-line flags. Flags the user sets explicitly
// override the config file.
type cliFlags struct {
	fs *flag.FlagSet

	config    *string
	port      *string
	baud      *int
	dev       *bool
	listen    *string
	broadcast *string
	history   *int
	db        *string
	current   *int
	temp      *int

	listPorts *bool
	exportCSV *string
	plot      *string
	version   *bool
}

func newCLIFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		fs:        fs,
		config:    fs.String("config", "", "Path to a JSON config file"),
		port:      fs.String("port", "", "Serial port the gyroscope is attached to"),
		baud:      fs.Int("baud", config.DefaultBaudRate, "Serial baud rate"),
		dev:       fs.Bool("dev", false, "Use the built-in telemetry simulator instead of a serial port"),
		listen:    fs.String("listen", config.DefaultListenAddr, "Debug HTTP listen address"),
		broadcast: fs.String("broadcast", config.DefaultBroadcastAddr, "Address of the telemetry line broadcast"),
		history:   fs.Int("history", config.DefaultHistoryCapacity, "Number of samples kept in memory"),
		db:        fs.String("db", "", "SQLite file to record samples into (empty disables recording)"),
		current:   fs.Int("current", config.DefaultSledCurrentMA, "SLED current setpoint in mA (0-500)"),
		temp:      fs.Int("temp", config.DefaultTempC, "TEC temperature setpoint in °C (0-50)"),
		listPorts: fs.Bool("list-ports", false, "List serial ports and exit"),
		exportCSV: fs.String("export-csv", "", "Write the sample history to this CSV file on exit"),
		plot:      fs.String("plot", "", "Write a plot of the sample history to this PNG file on exit"),
		version:   fs.Bool("version", false, "Print version and exit"),
	}
}

// overrides returns a config holding only the flags that were set.
func (f *cliFlags) overrides() *config.AppConfig {
	o := config.EmptyAppConfig()
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			o.SetSerialPort(*f.port)
		case "baud":
			o.SetBaudRate(*f.baud)
		case "dev":
			o.SetDevMode(*f.dev)
		case "listen":
			o.SetListenAddr(*f.listen)
		case "broadcast":
			o.SetBroadcastAddr(*f.broadcast)
		case "history":
			o.SetHistoryCapacity(*f.history)
		case "db":
			o.SetDBPath(*f.db)
		case "current":
			o.SetSledCurrentMA(*f.current)
		case "temp":
			o.SetTempC(*f.temp)
		}
	})
	return o
}

// resolve loads the config file, if any, and layers the explicit flags on
// top.
func (f *cliFlags) resolve() (*config.AppConfig, error) {
	cfg := config.EmptyAppConfig()
	if *f.config != "" {
		var err error
		if cfg, err = config.LoadAppConfig(*f.config); err != nil {
			return nil, err
		}
	}
	cfg.Override(f.overrides())
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func printPorts(w io.Writer, list func() ([]string, error)) error {
	ports, err := list()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

// portFor picks the opener and port name for the configured mode.
func portFor(cfg *config.AppConfig) (serialmux.PortOpener, string, error) {
	if cfg.GetDevMode() {
		return serialmux.SimulatedPortOpener, serialmux.SimulatedPortName, nil
	}
	port := cfg.GetSerialPort()
	if port == "" {
		return nil, "", errors.New("no serial port configured; use --port, --dev or --list-ports")
	}
	return serialmux.RealPortOpener, port, nil
}

// writeExports saves the requested history files, logging rather than
// failing when there is nothing to write.
func writeExports(hist *history.Buffer, csvPath, plotPath string) error {
	var errs []error
	if csvPath != "" {
		switch err := hist.ExportCSV(csvPath); {
		case errors.Is(err, history.ErrEmpty):
			log.Printf("no samples recorded, skipping CSV export")
		case err != nil:
			errs = append(errs, fmt.Errorf("csv export: %w", err))
		default:
			log.Printf("wrote %d samples to %s", hist.Len(), csvPath)
		}
	}
	if plotPath != "" {
		switch err := hist.PlotPNG(plotPath); {
		case errors.Is(err, history.ErrEmpty):
			log.Printf("no samples recorded, skipping plot")
		case err != nil:
			errs = append(errs, fmt.Errorf("plot: %w", err))
		default:
			log.Printf("wrote plot to %s", plotPath)
		}
	}
	return errors.Join(errs...)
}

func logStatus(ctrl *device.Controller, bc *broadcast.Server) {
	st := ctrl.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s", st.State)
	if st.Port != "" {
		fmt.Fprintf(&b, " port=%s", st.Port)
	}
	if st.LastCounter != nil {
		fmt.Fprintf(&b, " counter=%d", *st.LastCounter)
	}
	if st.Reader != nil {
		fmt.Fprintf(&b, " frames=%d discarded=%d dropped=%d",
			st.Reader.FramesDecoded, st.Reader.BytesDiscarded, st.Reader.SamplesDropped)
	}
	if info, ok := bc.ClientInfo(); ok {
		fmt.Fprintf(&b, " client=%s lines=%d", info.RemoteAddr, info.LinesSent)
	}
	log.Print(b.String())
}

func run(ctx context.Context, cfg *config.AppConfig, csvPath, plotPath string) error {
	opener, port, err := portFor(cfg)
	if err != nil {
		return err
	}

	hist := history.New(cfg.GetHistoryCapacity())

	bc := broadcast.New(cfg.GetBroadcastAddr(), broadcast.WithWriteTimeout(cfg.GetBroadcastTimeout()))
	if err := bc.Start(); err != nil {
		return fmt.Errorf("failed to start broadcast server: %w", err)
	}

	opts := []device.Option{
		device.WithHistory(hist),
		device.WithBroadcaster(bc),
		device.WithPortOptions(serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}),
		device.WithSetpoints(cfg.GetSledCurrentMA(), cfg.GetTempC()),
	}

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			bc.Stop()
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		opts = append(opts, device.WithRecorder(database))
	}

	ctrl := device.New(opener, opts...)
	if err := ctrl.Connect(ctx, port); err != nil {
		bc.Stop()
		return err
	}

	var wg sync.WaitGroup

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		ctrl.AttachAdminRoutes(mux)
		hist.AttachAdminRoutes(mux)
		bc.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}
		mux.Handle("/", http.RedirectHandler("/debug/", http.StatusFound))

		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug HTTP server failed: %v", err)
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
	}()

	// periodic status line
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(statusInterval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				logStatus(ctrl, bc)
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	wg.Wait()

	if err := ctrl.Disconnect(); err != nil {
		log.Printf("error closing %s: %v", port, err)
	}
	bc.Stop()

	return writeExports(hist, csvPath, plotPath)
}

func main() {
	flags := newCLIFlags(flag.CommandLine)
	flag.Parse()

	if *flags.version {
		fmt.Println(version.String())
		return
	}

	if *flags.listPorts {
		if err := printPorts(os.Stdout, serialmux.AvailablePorts); err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		return
	}

	cfg, err := flags.resolve()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	log.Printf("starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *flags.exportCSV, *flags.plot); err != nil {
		log.Printf("siphog: %v", err)
		stop()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
