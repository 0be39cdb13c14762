package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/httputil"
	"github.com/banshee-data/mobile-manipulator/internal/ingest"
	"github.com/banshee-data/mobile-manipulator/internal/kinematics"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/report"
	"github.com/banshee-data/mobile-manipulator/internal/runtime"
	"github.com/banshee-data/mobile-manipulator/internal/serialmux"
	"github.com/banshee-data/mobile-manipulator/internal/snapshot"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
	"github.com/banshee-data/mobile-manipulator/internal/telemetry"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
	"github.com/banshee-data/mobile-manipulator/internal/visualiser"
)

// options are the command line settings that shape the running system.
type options struct {
	TasksFile    string
	UDPListen    string
	ActuatorAddr string
	SIL          bool
	Integration  string
	SerialPort   string
	SerialBaud   int
	PCAPFile     string
	PCAPSpeed    float64
	PCAPPort     int
	SQLitePath   string
	GRPCListen   string
	Label        string
	HistorySize  int
}

// system is the wired estimator, controller and their I/O.
type system struct {
	opts   options
	tuning *config.TuningConfig
	clock  timeutil.Clock

	est        *estimator.Estimator
	estLoop    *runtime.EstimatorLoop
	ctrlLoop   *runtime.ControlLoop
	joints     *snapshot.Latest[tasks.JointConfiguration]
	dispatcher *ingest.Dispatcher

	actuator runtime.Actuator
	udpOut   *runtime.UDPActuator
	sim      *runtime.SimActuator

	serial serialmux.SerialMuxInterface
	pump   *serialmux.OdometryPump

	db        *telemetry.DB
	recorder  *telemetry.Recorder
	publisher *visualiser.Publisher
	collector *report.Collector
}

func newSystem(tuning *config.TuningConfig, opts options, clock timeutil.Clock) (*system, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &system{
		opts:   opts,
		tuning: tuning,
		clock:  clock,
		joints: &snapshot.Latest[tasks.JointConfiguration]{},
	}

	estCfg := estimator.EstimatorConfigFromTuning(tuning)
	s.est = estimator.New(estCfg, estimator.InitialEstimate(estCfg, clock.Now(), geom.IdentityPose()))
	s.estLoop = runtime.NewEstimatorLoop(runtime.EstimatorLoopConfig{
		Estimator: s.est,
		Clock:     clock,
		Period:    timeutil.PeriodFromRate(tuning.GetEstimatorRateHz()),
		QueueSize: tuning.GetMaxPendingObservations(),
	})

	history := tasks.NewErrorHistory(opts.HistorySize)
	s.collector = report.NewCollector(history, opts.HistorySize)

	observers := []runtime.Observer{s.collector}
	if opts.SQLitePath != "" {
		db, err := telemetry.Open(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.db = db
		rec, err := telemetry.NewRecorder(telemetry.RecorderConfig{
			DB:     db,
			Label:  opts.Label,
			Tuning: tuning,
			Clock:  clock,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		s.recorder = rec
		observers = append(observers, rec)
	}
	if opts.GRPCListen != "" {
		cfg := visualiser.DefaultConfig()
		cfg.ListenAddr = opts.GRPCListen
		s.publisher = visualiser.NewPublisher(cfg)
		observers = append(observers, s.publisher)
	}

	defaults := tasks.JointConfigurationFromTuning(tuning)
	switch {
	case opts.SIL:
		mode, err := kinematics.ParseIntegrationMode(opts.Integration)
		if err != nil {
			s.close()
			return nil, err
		}
		s.sim = runtime.NewSimActuator(runtime.SimActuatorConfig{
			Joints:          defaults,
			Mode:            mode,
			Step:            timeutil.PeriodFromRate(tuning.GetControlRateHz()),
			Clock:           clock,
			JointState:      s.joints,
			Observe:         func(o estimator.Observation) { s.estLoop.Submit(o) },
			Markers:         estCfg.Markers,
			CameraExtrinsic: estCfg.CameraExtrinsic,
			MarkerEvery:     10,
		})
		s.actuator = s.sim
	case opts.ActuatorAddr != "":
		udp, err := runtime.NewUDPActuator(opts.ActuatorAddr)
		if err != nil {
			s.close()
			return nil, err
		}
		s.udpOut = udp
		s.actuator = udp
	default:
		log.Printf("no actuator configured, commands are computed but not sent")
	}

	s.ctrlLoop = runtime.NewControlLoop(runtime.ControlLoopConfig{
		Controller:     control.NewController(control.ControllerConfigFromTuning(tuning), kinematics.NewModel(kinematics.ParamsFromTuning(tuning))),
		Actuator:       s.actuator,
		Clock:          clock,
		Period:         timeutil.PeriodFromRate(tuning.GetControlRateHz()),
		Budget:         tuning.GetCycleBudget(),
		Pose:           s.estLoop.Latest(),
		Joints:         s.joints,
		DefaultJoints:  defaults,
		JointLimits:    tasks.JointLimitMonitorFromTuning(tuning),
		JointLimitRank: -1,
		History:        history,
		Observers:      observers,
	})

	if opts.TasksFile != "" {
		data, err := os.ReadFile(opts.TasksFile)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to read task set: %w", err)
		}
		set, err := tasks.DecodeTaskSet(data)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("task set %s: %w", opts.TasksFile, err)
		}
		s.ctrlLoop.Tasks().Store(set)
	}

	s.dispatcher = ingest.NewDispatcher(ingest.Sink{
		Observation: s.estLoop.Submit,
		TaskSet:     s.ctrlLoop.Tasks().Store,
		Joints:      s.joints.Store,
	}, defaults)

	switch opts.SerialPort {
	case "":
		s.serial = serialmux.NewDisabledSerialMux()
	case serialmux.MockPortPath:
		// A stationary platform, for bench runs without the base.
		s.serial = serialmux.NewMockSerialMux([3]float64{}, [3]float64{}, timeutil.PeriodFromRate(tuning.GetEstimatorRateHz()))
	default:
		mux, err := serialmux.NewRealSerialMux(opts.SerialPort, serialmux.PortOptions{BaudRate: opts.SerialBaud})
		if err != nil {
			s.close()
			return nil, err
		}
		s.serial = mux
	}
	s.pump = serialmux.NewOdometryPump(s.serial, s.estLoop.Submit)

	return s, nil
}

// attachAdminRoutes mounts every component's /debug/ tools on mux.
func (s *system) attachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	debug.Handle("events", "estimator and controller event counters (JSON)", monitoring.DefaultEvents)
	debug.HandleFunc("manipulator-status", "loop, ingest and output counters (JSON)", s.handleStatus)

	s.serial.AttachAdminRoutes(mux)
	s.collector.AttachAdminRoutes(mux)
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}
	return nil
}

type statusResponse struct {
	Estimate   estimator.PoseEstimate     `json:"estimate"`
	Estimator  estimator.Stats            `json:"estimator"`
	Ingest     ingest.StatsSnapshot       `json:"ingest"`
	Odometry   [3]uint64                  `json:"serial_odometry"`
	Actuator   *[2]uint64                 `json:"udp_actuator,omitempty"`
	Recorder   *telemetry.RecorderStats   `json:"recorder,omitempty"`
	Visualiser *visualiser.PublisherStats `json:"visualiser,omitempty"`
	RunID      string                     `json:"run_id,omitempty"`
}

func (s *system) status() statusResponse {
	st := statusResponse{
		Estimate:  s.est.Estimate(),
		Estimator: s.est.Stats(),
		Ingest:    s.dispatcher.Stats().Snapshot(),
	}
	st.Odometry[0], st.Odometry[1], st.Odometry[2] = s.pump.Counts()
	if s.udpOut != nil {
		sent, failed := s.udpOut.Counts()
		st.Actuator = &[2]uint64{sent, failed}
	}
	if s.recorder != nil {
		rs := s.recorder.Stats()
		st.Recorder = &rs
		st.RunID = s.recorder.RunID()
	}
	if s.publisher != nil {
		ps := s.publisher.Stats()
		st.Visualiser = &ps
	}
	return st
}

func (s *system) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

// run starts every loop and source and blocks until ctx is cancelled and
// they have all returned.
func (s *system) run(ctx context.Context) error {
	if s.publisher != nil {
		if err := s.publisher.Start(); err != nil {
			return err
		}
		defer s.publisher.Stop()
	}
	if err := s.serial.Initialize(int(s.tuning.GetEstimatorRateHz())); err != nil {
		log.Printf("failed to initialize odometry device: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.estLoop.Run(ctx); err != nil {
			log.Printf("estimator loop error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.ctrlLoop.Run(ctx); err != nil {
			log.Printf("control loop error: %v", err)
		}
	}()

	if s.recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.recorder.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("telemetry recorder error: %v", err)
			}
			log.Printf("telemetry run %s finished", s.recorder.RunID())
		}()
	}

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.serial.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.pump.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("odometry pump error: %v", err)
		}
	}()

	if s.opts.UDPListen != "" {
		listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
			Address: s.opts.UDPListen,
			RcvBuf:  4 << 20,
			Handler: s.dispatcher,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("UDP listener error: %v", err)
			}
		}()
	}

	if s.opts.PCAPFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := ingest.ReplayPCAP(ctx, s.opts.PCAPFile, s.dispatcher, ingest.ReplayConfig{
				Port:            s.opts.PCAPPort,
				SpeedMultiplier: s.opts.PCAPSpeed,
			})
			if err != nil && err != context.Canceled {
				log.Printf("PCAP replay error: %v", err)
			}
			log.Printf("PCAP replay: packets=%d delivered=%d errors=%d span=%v",
				st.Packets, st.Delivered, st.Errors, st.Duration)
		}()
	}

	wg.Wait()
	return nil
}

// close releases the serial port, sockets and database.
func (s *system) close() {
	if s.serial != nil {
		if err := s.serial.Close(); err != nil {
			log.Printf("failed to close serial port: %v", err)
		}
	}
	if s.udpOut != nil {
		s.udpOut.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Printf("failed to close telemetry database: %v", err)
		}
	}
}

// writePlots renders the collected run into dir.
func writePlots(c *report.Collector, dir string) {
	start := time.Now()
	files, err := c.WritePlots(dir)
	if err != nil {
		log.Printf("failed to write plots: %v", err)
		return
	}
	log.Printf("wrote %d plots to %s in %v", len(files), dir, time.Since(start))
}
