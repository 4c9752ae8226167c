package runner

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/Speed7701/RFR/internal/async"
	"github.com/Speed7701/RFR/internal/ble"
	"github.com/Speed7701/RFR/internal/pubsub"
)

// PodView is the plain display form of a scanned location pod.
type PodView struct {
	Name    string
	Address string
	RSSI    int16
	State   string
}

// UIState holds what views need to render the chrome.
type UIState struct {
	Mode UIMode
}

const maxLogLines = 1000

// SessionModel is the shared state hub between the engine, the BLE layer
// and the views. Every mutation publishes to the matching topic; views
// subscribe and redraw. Getters return copies.
type SessionModel struct {
	logger *log.Logger

	uiStateTopic      *pubsub.Topic[UIState]
	telemetryTopic    *pubsub.Topic[SessionSnapshot]
	summaryTopic      *pubsub.Topic[SessionSummary]
	noticeTopic       *pubsub.Topic[string]
	logTopic          *pubsub.Topic[string]
	scanPodsTopic     *pubsub.Topic[[]PodView]
	connectedPodTopic *pubsub.Topic[[]PodView]
	closeAppTopic     *pubsub.Topic[struct{}]

	mu          sync.RWMutex
	uiState     UIState
	telemetry   SessionSnapshot
	lastSummary *SessionSummary
	scanPods    []PodView
	connected   []PodView

	logMu    sync.RWMutex
	logLines []string

	prefs *uiPrefs

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionModel creates the model and starts its listener goroutines:
// pod list updates from the BLE manager and log lines from uiLogChan.
func NewSessionModel(manager ble.ManagerInterface, dataDir string, logger *log.Logger, uiLogChan <-chan string) *SessionModel {
	if manager == nil {
		panic("SessionModel: manager cannot be nil")
	}
	if logger == nil {
		panic("SessionModel: logger cannot be nil")
	}
	if uiLogChan == nil {
		panic("SessionModel: uiLogChan cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionModel{
		logger:            logger,
		uiStateTopic:      pubsub.NewTopic[UIState](true),
		telemetryTopic:    pubsub.NewTopic[SessionSnapshot](true),
		summaryTopic:      pubsub.NewTopic[SessionSummary](true),
		noticeTopic:       pubsub.NewTopic[string](false),
		logTopic:          pubsub.NewTopic[string](false),
		scanPodsTopic:     pubsub.NewTopic[[]PodView](true),
		connectedPodTopic: pubsub.NewTopic[[]PodView](true),
		closeAppTopic:     pubsub.NewTopic[struct{}](true),
		uiState:           UIState{Mode: UIModeLocationSource},
		telemetry:         SessionSnapshot{Status: StatusIdle, PhaseIndex: -1, IntervalIndex: -1, CountdownValue: -1},
		logLines:          make([]string, 0, maxLogLines),
		prefs:             newUIPrefs(dataDir, logger),
		ctx:               ctx,
		cancel:            cancel,
	}

	m.wg.Add(1)
	async.Go(logger, func() { m.listenToScanPods(ctx, manager) })

	m.wg.Add(1)
	async.Go(logger, func() { m.listenToConnectedPods(ctx, manager) })

	m.wg.Add(1)
	async.Go(logger, func() { m.readFromLogChannel(ctx, uiLogChan) })

	return m
}

// Shutdown stops the listener goroutines and waits for them.
func (m *SessionModel) Shutdown() {
	m.logger.Println("SessionModel: shutting down")
	m.cancel()
	m.wg.Wait()
	m.logger.Println("SessionModel: shutdown complete")
}

// --- UI state ---

// ListenToUIState registers a channel for UI mode changes.
// Returns a deregistration function.
func (m *SessionModel) ListenToUIState(ch chan<- UIState) func() {
	return m.uiStateTopic.Subscribe(ch)
}

// GetUIState returns the current UI state.
func (m *SessionModel) GetUIState() UIState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uiState
}

// SetMode switches the UI mode and notifies listeners.
func (m *SessionModel) SetMode(mode UIMode) {
	m.mu.Lock()
	if m.uiState.Mode == mode {
		m.mu.Unlock()
		return
	}
	m.uiState.Mode = mode
	state := m.uiState
	m.mu.Unlock()

	m.uiStateTopic.Publish(state)
}

// --- Session telemetry ---

// ListenToTelemetry registers a channel for telemetry snapshots.
// Returns a deregistration function.
func (m *SessionModel) ListenToTelemetry(ch chan<- SessionSnapshot) func() {
	return m.telemetryTopic.Subscribe(ch)
}

// GetTelemetry returns a copy of the latest telemetry snapshot.
func (m *SessionModel) GetTelemetry() SessionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.telemetry.Clone()
}

// SetTelemetry stores a telemetry snapshot and notifies listeners. The
// engine is the only writer.
func (m *SessionModel) SetTelemetry(snap SessionSnapshot) {
	m.mu.Lock()
	m.telemetry = snap
	published := snap.Clone()
	m.mu.Unlock()

	m.telemetryTopic.Publish(published)
}

// --- Session summary ---

// ListenToSummary registers a channel for completed session summaries.
// Returns a deregistration function.
func (m *SessionModel) ListenToSummary(ch chan<- SessionSummary) func() {
	return m.summaryTopic.Subscribe(ch)
}

// GetLastSummary returns the most recent completed summary, or nil.
func (m *SessionModel) GetLastSummary() *SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSummary == nil {
		return nil
	}
	summary := *m.lastSummary
	return &summary
}

// SetSummary stores a completed session summary and notifies listeners.
func (m *SessionModel) SetSummary(summary SessionSummary) {
	m.mu.Lock()
	s := summary
	m.lastSummary = &s
	m.mu.Unlock()

	m.summaryTopic.Publish(summary)
}

// --- Notices ---

// ListenToNotices registers a channel for one-off notice messages shown
// in the dashboard, e.g. a failed history save.
// Returns a deregistration function.
func (m *SessionModel) ListenToNotices(ch chan<- string) func() {
	return m.noticeTopic.Subscribe(ch)
}

// PublishNotice emits a notice message.
func (m *SessionModel) PublishNotice(text string) {
	m.noticeTopic.Publish(text)
}

// --- Application lifecycle ---

// ListenToCloseApplication registers a channel for the close signal.
// Returns a deregistration function.
func (m *SessionModel) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeAppTopic.Subscribe(ch)
}

// RequestCloseApplication signals that the application should exit.
func (m *SessionModel) RequestCloseApplication() {
	m.closeAppTopic.Publish(struct{}{})
}

// --- Pods ---

// ListenToScanPods registers a channel for scan result updates.
// Returns a deregistration function.
func (m *SessionModel) ListenToScanPods(ch chan<- []PodView) func() {
	return m.scanPodsTopic.Subscribe(ch)
}

// GetScanPods returns the current scan results.
func (m *SessionModel) GetScanPods() []PodView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PodView, len(m.scanPods))
	copy(out, m.scanPods)
	return out
}

// ListenToConnectedPods registers a channel for connected pod updates.
// Returns a deregistration function.
func (m *SessionModel) ListenToConnectedPods(ch chan<- []PodView) func() {
	return m.connectedPodTopic.Subscribe(ch)
}

// GetConnectedPods returns the currently connected pods.
func (m *SessionModel) GetConnectedPods() []PodView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PodView, len(m.connected))
	copy(out, m.connected)
	return out
}

// --- Preferences ---

// GetPreferredTemplate returns the template name selected last time.
func (m *SessionModel) GetPreferredTemplate() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.getPreferredTemplate()
}

// SetPreferredTemplate persists the selected template name.
func (m *SessionModel) SetPreferredTemplate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs.setPreferredTemplate(name)
}

// GetPreferredPod returns the address of the pod used last time.
func (m *SessionModel) GetPreferredPod() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs.getPreferredPod()
}

// SetPreferredPod persists the address of the chosen pod.
func (m *SessionModel) SetPreferredPod(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs.setPreferredPod(address)
}

// --- Logs ---

// ListenToLog registers a channel for new log lines.
// Returns a deregistration function.
func (m *SessionModel) ListenToLog(ch chan<- string) func() {
	return m.logTopic.Subscribe(ch)
}

// GetLogTail returns the last n log lines.
func (m *SessionModel) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n >= len(m.logLines) {
		out := make([]string, len(m.logLines))
		copy(out, m.logLines)
		return out
	}
	out := make([]string, n)
	copy(out, m.logLines[len(m.logLines)-n:])
	return out
}

// readFromLogChannel buffers log lines for the UI pane.
func (m *SessionModel) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}

			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			m.logTopic.Publish(line)
		}
	}
}

// listenToScanPods mirrors the BLE manager's scan list into PodViews.
func (m *SessionModel) listenToScanPods(ctx context.Context, manager ble.ManagerInterface) {
	defer m.wg.Done()

	deviceChan := make(chan []ble.Device, 1)
	unregister := manager.SubscribeDeviceList(deviceChan)
	defer unregister()

	for {
		select {
		case <-ctx.Done():
			return
		case devices, ok := <-deviceChan:
			if !ok {
				return
			}
			views := podViewsFromDevices(devices)

			m.mu.Lock()
			m.scanPods = views
			m.mu.Unlock()

			m.scanPodsTopic.Publish(views)
		}
	}
}

// listenToConnectedPods mirrors the BLE manager's connected set.
func (m *SessionModel) listenToConnectedPods(ctx context.Context, manager ble.ManagerInterface) {
	defer m.wg.Done()

	deviceChan := make(chan []ble.Device, 1)
	unregister := manager.SubscribeConnectedDevices(deviceChan)
	defer unregister()

	for {
		select {
		case <-ctx.Done():
			return
		case devices, ok := <-deviceChan:
			if !ok {
				return
			}
			views := podViewsFromDevices(devices)

			m.mu.Lock()
			m.connected = views
			m.mu.Unlock()

			m.connectedPodTopic.Publish(views)
		}
	}
}

// podViewsFromDevices converts BLE devices into sorted display views.
func podViewsFromDevices(devices []ble.Device) []PodView {
	views := make([]PodView, 0, len(devices))
	for _, dev := range devices {
		rssi, err := dev.RSSI()
		if err != nil {
			rssi = 0
		}
		views = append(views, PodView{
			Name:    dev.LocalName(),
			Address: dev.AddressString(),
			RSSI:    rssi,
			State:   dev.State().String(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Address < views[j].Address })
	return views
}

// logChannelWriter forwards written lines into a channel, dropping lines
// when the channel is full. It feeds the UI log pane from the logger via
// io.MultiWriter.
type logChannelWriter struct {
	ch chan<- string
}

// NewLogChannelWriter wraps ch as an io.Writer for log tee-ing.
func NewLogChannelWriter(ch chan<- string) io.Writer {
	return &logChannelWriter{ch: ch}
}

func (w *logChannelWriter) Write(p []byte) (int, error) {
	line := string(p)
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if line != "" {
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}
