package runner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Speed7701/RFR/internal/async"
	"github.com/Speed7701/RFR/internal/ble"
	"github.com/Speed7701/RFR/internal/location"
)

// connectTimeout bounds how long a pod gets to report connected after a
// connect request.
const connectTimeout = 15 * time.Second

// UIController translates UI events into model, engine and BLE actions.
type UIController struct {
	model   *SessionModel
	manager ble.ManagerInterface
	engine  *WorkoutEngine
	logger  *log.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// autoConnected lives on the scan listener goroutine only.
	autoConnected bool
}

// NewUIController creates a controller and starts the preferred pod
// auto-connect listener.
func NewUIController(model *SessionModel, manager ble.ManagerInterface, engine *WorkoutEngine, logger *log.Logger) *UIController {
	if model == nil {
		panic("UIController: model cannot be nil")
	}
	if manager == nil {
		panic("UIController: manager cannot be nil")
	}
	if engine == nil {
		panic("UIController: engine cannot be nil")
	}
	if logger == nil {
		panic("UIController: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &UIController{
		model:   model,
		manager: manager,
		engine:  engine,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(1)
	async.Go(logger, func() { c.listenForPreferredPod() })

	return c
}

// listenForPreferredPod watches scan results and connects the remembered
// pod the first time it shows up, so a pod from the last run reattaches
// without a trip through the pods screen.
func (c *UIController) listenForPreferredPod() {
	defer c.wg.Done()

	ch := make(chan []PodView, 1)
	unregister := c.model.ListenToScanPods(ch)
	defer unregister()

	for {
		select {
		case <-c.ctx.Done():
			return
		case pods := <-ch:
			c.maybeAutoConnect(pods)
		}
	}
}

func (c *UIController) maybeAutoConnect(pods []PodView) {
	if c.autoConnected {
		return
	}
	preferred := c.model.GetPreferredPod()
	if preferred == "" || len(c.manager.ConnectedDevices()) > 0 {
		return
	}
	for _, pod := range pods {
		if pod.Address == preferred {
			c.autoConnected = true
			c.logger.Printf("UIController: auto-connecting remembered pod %s", preferred)
			c.PodSelected(pod)
			return
		}
	}
}

// PodSelected handles a pod picked from the scan list. Connecting can
// take seconds, so it runs off the UI thread.
func (c *UIController) PodSelected(pod PodView) {
	var target ble.Device
	for _, device := range c.manager.ScanDevices() {
		if device.AddressString() == pod.Address {
			target = device
			break
		}
	}
	if target == nil {
		c.logger.Printf("UIController: pod %s is no longer in range", pod.Address)
		return
	}
	if target.IsConnected() {
		c.logger.Printf("UIController: pod %s is already connected", pod.Address)
		return
	}

	c.logger.Printf("UIController: connecting pod %s (%s)", pod.Name, pod.Address)
	c.wg.Add(1)
	async.Go(c.logger, func() {
		defer c.wg.Done()
		if err := c.manager.Connect(target); err != nil {
			c.logger.Printf("UIController: connect %s failed: %v", pod.Address, err)
			return
		}
		if err := target.WaitForConnection(connectTimeout); err != nil {
			c.logger.Printf("UIController: %v", err)
			return
		}
		c.model.SetPreferredPod(pod.Address)
		c.logger.Printf("UIController: pod %s connected", pod.Address)
	})
}

// DisconnectPod drops every connected pod.
func (c *UIController) DisconnectPod() {
	connected := c.manager.ConnectedDevices()
	if len(connected) == 0 {
		c.logger.Printf("UIController: no pod connected")
		return
	}
	for _, device := range connected {
		if err := c.manager.Disconnect(device); err != nil {
			c.logger.Printf("UIController: disconnect %s failed: %v", device.AddressString(), err)
		}
	}
}

// OnEscapeKey handles when the Escape key is pressed
func (c *UIController) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// StartPodScan scans for location pods only.
func (c *UIController) StartPodScan() {
	if c.manager.IsScanning() {
		c.logger.Printf("UIController: already scanning")
		return
	}
	c.manager.StartScan([]string{location.ServiceUUIDLocationAndNavigation})
}

func (c *UIController) StopPodScan() {
	if !c.manager.IsScanning() {
		c.logger.Printf("UIController: already not scanning")
		return
	}
	c.manager.StopScan()
}

func (c *UIController) TogglePodScan() {
	if c.manager.IsScanning() {
		c.StopPodScan()
	} else {
		c.StartPodScan()
	}
}

// OnModeChange handles when the user requests a screen change. The pods
// screen scans while it is up; leaving it stops the scan.
func (c *UIController) OnModeChange(mode UIMode) {
	c.logger.Printf("UIController: switching to %s", mode)
	if mode == UIModeLocationSource {
		c.StartPodScan()
	} else {
		c.StopPodScan()
	}
	c.model.SetMode(mode)
}

// OnTemplateSelected starts the chosen workout and jumps to the dashboard.
func (c *UIController) OnTemplateSelected(index int) {
	if index < 0 || index >= len(AllTemplates) {
		c.logger.Printf("UIController: invalid template index: %d", index)
		return
	}

	template := AllTemplates[index]
	if err := c.engine.Start(template); err != nil {
		c.logger.Printf("UIController: cannot start %q: %v", template.Name, err)
		return
	}
	c.model.SetPreferredTemplate(template.Name)
	c.OnModeChange(UIModeRunDashboard)
}

// ToggleWorkout pauses or resumes based on the session state.
func (c *UIController) ToggleWorkout() {
	switch c.engine.Status() {
	case StatusActive:
		c.engine.Pause()
	case StatusPaused:
		c.engine.Resume()
	case StatusPreparing:
		c.logger.Printf("UIController: workout is counting down")
	default:
		c.logger.Printf("UIController: no workout running - pick one in Workouts mode (press 2)")
	}
}

// StopWorkout aborts the session in progress.
func (c *UIController) StopWorkout() {
	c.engine.Stop()
}

// Shutdown stops the listeners and the engine.
func (c *UIController) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.engine.Shutdown()
}
