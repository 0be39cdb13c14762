package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/report"
	"github.com/banshee-data/mobile-manipulator/internal/serialmux"
	"github.com/banshee-data/mobile-manipulator/internal/telemetry"
	"github.com/banshee-data/mobile-manipulator/internal/version"
	"github.com/banshee-data/mobile-manipulator/internal/visualiser"
)

var (
	tuningFile  = flag.String("tuning", "", "Path to the tuning JSON file (default: config/tuning.defaults.json)")
	tasksFile   = flag.String("tasks", "", "Task set JSON loaded before the first control cycle")
	listen      = flag.String("listen", ":8080", "Debug HTTP listen address")
	udpListen   = flag.String("udp-listen", ":2370", "UDP ingest listen address (empty disables)")
	actuator    = flag.String("actuator", "", "UDP address velocity commands are sent to")
	sil         = flag.Bool("sil", false, "Run against the software-in-the-loop simulated platform")
	integration = flag.String("sil-integration", "MTR", "Simulated base integration mode: MTR, RTM or MRS")
	serialPort  = flag.String("serial", "", "Wheel odometry serial port (empty disables, \"mock\" simulates a stationary base)")
	serialBaud  = flag.Int("serial-baud", serialmux.DefaultBaudRate, "Wheel odometry serial baud rate")
	pcapFile    = flag.String("pcap", "", "Replay ingest datagrams from a pcap file")
	pcapSpeed   = flag.Float64("pcap-speed", 1.0, "PCAP replay speed multiplier (0 replays as fast as possible)")
	pcapPort    = flag.Int("pcap-port", 0, "Only replay UDP datagrams to this destination port (0 keeps all)")
	sqlitePath  = flag.String("sqlite", "manipulator.db", "Telemetry database path (empty disables recording)")
	runLabel    = flag.String("label", "", "Label stored with the recorded run")
	grpcListen  = flag.String("grpc-listen", visualiser.DefaultConfig().ListenAddr, "gRPC visualiser listen address (empty disables)")
	plotDir     = flag.String("plot-dir", "", "Directory plots are written to on exit (empty disables)")
	plotRun     = flag.String("plot-run", "", "Write plots for a recorded run ID from -sqlite into -plot-dir and exit")
	historySize = flag.Int("history", 6000, "Control cycles kept for plots and charts")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// plotRecordedRun renders a run stored in the telemetry database.
func plotRecordedRun(dbPath, runID, dir string) error {
	if dbPath == "" || dir == "" {
		return fmt.Errorf("-plot-run needs both -sqlite and -plot-dir")
	}
	db, err := telemetry.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := report.CollectorFromRun(db, runID)
	if err != nil {
		return err
	}
	writePlots(c, dir)
	return nil
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("manipulator %s\n", version.String())
		return
	}

	if *plotRun != "" {
		if err := plotRecordedRun(*sqlitePath, *plotRun, *plotDir); err != nil {
			log.Fatalf("failed to plot run %s: %v", *plotRun, err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *sil && *actuator != "" {
		log.Fatal("-sil and -actuator are mutually exclusive")
	}

	tuning, err := loadTuning(*tuningFile)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("invalid tuning config: %v", err)
	}
	log.Printf("manipulator %s starting: estimator=%.0fHz control=%.0fHz",
		version.String(), tuning.GetEstimatorRateHz(), tuning.GetControlRateHz())

	sys, err := newSystem(tuning, options{
		TasksFile:    *tasksFile,
		UDPListen:    *udpListen,
		ActuatorAddr: *actuator,
		SIL:          *sil,
		Integration:  *integration,
		SerialPort:   *serialPort,
		SerialBaud:   *serialBaud,
		PCAPFile:     *pcapFile,
		PCAPSpeed:    *pcapSpeed,
		PCAPPort:     *pcapPort,
		SQLitePath:   *sqlitePath,
		GRPCListen:   *grpcListen,
		Label:        *runLabel,
		HistorySize:  *historySize,
	}, nil)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer sys.close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sys.run(ctx); err != nil {
			log.Printf("system error: %v", err)
			stop()
		}
		log.Print("control routines terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if err := sys.attachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
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

	wg.Wait()

	if *plotDir != "" {
		writePlots(sys.collector, *plotDir)
	}
	log.Printf("Graceful shutdown complete")
}
