package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rivo/tview"
	"tinygo.org/x/bluetooth"

	"github.com/Speed7701/RFR/internal/ble"
	"github.com/Speed7701/RFR/internal/config"
	"github.com/Speed7701/RFR/internal/location"
	"github.com/Speed7701/RFR/internal/logging"
	"github.com/Speed7701/RFR/internal/runner"
	"github.com/Speed7701/RFR/internal/speech"
)

var adapter = bluetooth.DefaultAdapter

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	must("create data directory", os.MkdirAll(cfg.DataDir, 0o755))

	// Log lines tee into the UI's log pane through this channel.
	uiLogChan := make(chan string, 100)
	logger, logCloser := logging.New(logging.Options{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}, runner.NewLogChannelWriter(uiLogChan))
	defer logCloser.Close()

	logger.Printf("rfr starting, data dir: %s", cfg.DataDir)

	// Append workout templates from the config file after the built-ins.
	for _, spec := range cfg.Templates {
		template := runner.WorkoutTemplate{
			Name:            spec.Name,
			WarmUpMinutes:   spec.WarmUpMinutes,
			RunMinutes:      spec.RunMinutes,
			WalkMinutes:     spec.WalkMinutes,
			Intervals:       spec.Intervals,
			CoolDownMinutes: spec.CoolDownMinutes,
		}
		if err := template.Validate(); err != nil {
			logger.Printf("Skipping config template %q: %v", spec.Name, err)
			continue
		}
		runner.AllTemplates = append(runner.AllTemplates, template)
	}

	var manager ble.ManagerInterface
	if cfg.MockLocation {
		manager = location.NewMockManager(cfg.MockPort, logger)
	} else {
		manager = ble.NewManager(adapter, time.Duration(cfg.ScanTimeoutSeconds)*time.Second, logger)
	}
	must("enable BLE stack", manager.Enable())

	model := runner.NewSessionModel(manager, cfg.DataDir, logger, uiLogChan)
	tracker := runner.NewPaceTracker(cfg.AccuracyLimitMeters, logger)

	var synth speech.Synthesizer = speech.NullSynthesizer{}
	if cfg.SpeechCommand != "" {
		synth = speech.NewCommandSynthesizer(cfg.SpeechCommand, cfg.SpeechArgs...)
	}
	cue := speech.NewCue(synth, logger)

	source := location.NewPodSource(manager, tracker.Ingest, logger)
	store := runner.NewHistoryStore(cfg.DataDir, logger)

	// Surface the previous run on the dashboard right away.
	if summaries, err := store.AllSummaries(); err != nil {
		logger.Printf("Session history unreadable: %v", err)
	} else if len(summaries) > 0 {
		model.SetSummary(summaries[len(summaries)-1])
	}

	engine := runner.NewWorkoutEngine(runner.NewWorkoutEngineArgs{
		Model:   model,
		Tracker: tracker,
		Cue:     cue,
		Store:   store,
		Source:  source,
		Logger:  logger,
	})

	controller := runner.NewUIController(model, manager, engine, logger)

	app := tview.NewApplication()
	view := runner.NewCursesUIView(logger, app, model)
	baseView := runner.NewBaseUIView(runner.NewBaseUIViewArg{
		UIViewImpl:   view,
		Model:        model,
		UIController: controller,
		Logger:       logger,
	})

	if err := baseView.Run(); err != nil {
		logger.Printf("UI exited with error: %v", err)
	}

	// Teardown order matters: drop the UI listeners first, then the
	// controller (which stops the engine and any running session), then
	// the speech queue, the radio, and finally the model.
	baseView.Shutdown()
	controller.Shutdown()
	cue.Shutdown()
	manager.Shutdown()
	model.Shutdown()
	logger.Println("rfr exited")
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
