package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Speed7701/RFR/internal/async"
)

// BaseUIView contains the base logic shared by all UI implementations
type BaseUIView struct {
	uiViewImpl   UIViewImpl
	uiModel      *SessionModel
	uiController *UIController
	context      context.Context
	cancelFunc   context.CancelFunc
	waitGroup    sync.WaitGroup
	logger       *log.Logger
}

// NewBaseUIViewArg holds the arguments for creating a new BaseUIView
type NewBaseUIViewArg struct {
	UIViewImpl   UIViewImpl
	Model        *SessionModel
	UIController *UIController
	Logger       *log.Logger
}

// NewBaseUIView creates a new BaseUIView with the given implementation
func NewBaseUIView(args NewBaseUIViewArg) *BaseUIView {
	if args.Logger == nil {
		panic("BaseUIView: logger cannot be nil")
	}
	if args.UIViewImpl == nil {
		panic("BaseUIView: UIViewImpl cannot be nil")
	}
	if args.Model == nil {
		panic("BaseUIView: model cannot be nil")
	}
	if args.UIController == nil {
		panic("BaseUIView: UIController cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())

	base := &BaseUIView{
		uiViewImpl:   args.UIViewImpl,
		uiModel:      args.Model,
		uiController: args.UIController,
		context:      ctx,
		cancelFunc:   cancel,
		waitGroup:    sync.WaitGroup{},
		logger:       args.Logger,
	}

	// Initialize framework-specific widgets
	args.UIViewImpl.Initialize(args.UIController)

	// Set up keyboard handlers
	args.UIViewImpl.SetupKeyboardHandlers(args.UIController)

	// Set initial mode from model
	args.UIViewImpl.SetMode(args.Model.GetUIState().Mode)

	// Hand the workout catalog to the view once; the list never changes
	// at runtime.
	args.UIViewImpl.SetTemplateList(AllTemplates)

	// Set up periodic resize check and initial display
	base.waitGroup.Add(1)
	async.Go(base.logger, func() { base.monitorLogResize() })
	base.updateLogDisplay()

	base.setupEventListeners()

	return base
}

func (base *BaseUIView) setupEventListeners() {
	// Listen to log messages from model
	logChan := make(chan string, 1)
	logUnregister := base.uiModel.ListenToLog(logChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer logUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case _, ok := <-logChan:
				if !ok {
					return
				}
				// When a new log arrives, update the display to show the tail
				base.updateLogDisplay()
			}
		}
	})

	// Listen to pod scan results from model
	scanChan := make(chan []PodView, 1)
	scanUnregister := base.uiModel.ListenToScanPods(scanChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer scanUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case pods, ok := <-scanChan:
				if !ok {
					return
				}
				podsAsText := make([]string, 0, len(pods))
				for _, pod := range pods {
					podsAsText = append(podsAsText, formatScanPodName(pod))
				}
				base.uiViewImpl.SetPodList(podsAsText)

				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	})

	// Listen to connected pod changes from model
	connectedChan := make(chan []PodView, 1)
	connectedUnregister := base.uiModel.ListenToConnectedPods(connectedChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer connectedUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case pods, ok := <-connectedChan:
				if !ok {
					return
				}
				base.uiViewImpl.SetConnectedPods(pods)
				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	})

	// Listen to close application event from model
	closeChan := make(chan struct{}, 1)
	closeUnregister := base.uiModel.ListenToCloseApplication(closeChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer closeUnregister()
		select {
		case <-base.context.Done():
			return
		case _, ok := <-closeChan:
			if !ok {
				return
			}
			// Stop the UI implementation
			base.uiViewImpl.Stop()
		}
	})

	// Listen to UI state changes from model
	uiStateChan := make(chan UIState, 1)
	uiStateUnregister := base.uiModel.ListenToUIState(uiStateChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer uiStateUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case state, ok := <-uiStateChan:
				if !ok {
					return
				}
				// Update the view's mode
				base.uiViewImpl.SetMode(state.Mode)
				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	})

	// Listen to telemetry snapshots from the workout engine
	telemetryChan := make(chan SessionSnapshot, 1)
	telemetryUnregister := base.uiModel.ListenToTelemetry(telemetryChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer telemetryUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case snap, ok := <-telemetryChan:
				if !ok {
					return
				}
				// Update the view's session display
				base.uiViewImpl.UpdateTelemetry(snap)
				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	})

	// Listen to finished session summaries from model
	summaryChan := make(chan SessionSummary, 1)
	summaryUnregister := base.uiModel.ListenToSummary(summaryChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer summaryUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case summary, ok := <-summaryChan:
				if !ok {
					return
				}
				// Update the view's last session display
				base.uiViewImpl.UpdateSummary(summary)
				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	})

	// Listen to notices from model
	noticeChan := make(chan string, 1)
	noticeUnregister := base.uiModel.ListenToNotices(noticeChan)
	base.waitGroup.Add(1)
	async.Go(base.logger, func() {
		defer base.waitGroup.Done()
		defer noticeUnregister()
		for {
			select {
			case <-base.context.Done():
				return
			case text, ok := <-noticeChan:
				if !ok {
					return
				}
				base.uiViewImpl.UpdateNotice(text)
				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	})
}

func (base *BaseUIView) updateLogDisplay() {
	// Get the visible height of the log view
	height := base.uiViewImpl.GetLogViewHeight()
	if height <= 0 {
		return
	}

	// Get the tail of logs that fit in the visible area
	logLines := base.uiModel.GetLogTail(height)

	// Clear and update the log view
	base.uiViewImpl.ClearLogView()
	for _, line := range logLines {
		if err := base.uiViewImpl.WriteLogLine(line); err != nil {
			base.logger.Printf("BaseUIView: Error writing to log view: %v", err)
		}
	}
}

func (base *BaseUIView) monitorLogResize() {
	defer base.waitGroup.Done()
	var lastHeight int
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-base.context.Done():
			return
		case <-ticker.C:
			height := base.uiViewImpl.GetLogViewHeight()
			if height != lastHeight && height > 0 {
				lastHeight = height
				base.updateLogDisplay()
				if err := base.uiViewImpl.Draw(); err != nil {
					base.logger.Printf("BaseUIView: Error drawing: %v", err)
				}
			}
		}
	}
}

// Shutdown stops all goroutines and waits for them to finish
func (base *BaseUIView) Shutdown() {
	base.logger.Println("BaseUIView: Shutting down")
	base.cancelFunc()
	base.waitGroup.Wait()
	base.logger.Println("BaseUIView: Shutdown complete")
}

// Run starts the UI and blocks until it exits
func (base *BaseUIView) Run() error {
	return base.uiViewImpl.Run()
}

func formatScanPodName(pod PodView) string {
	name := pod.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("%s (%s)", name, pod.Address)
}
