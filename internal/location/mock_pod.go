package location

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Speed7701/RFR/internal/async"
	"github.com/Speed7701/RFR/internal/ble"
	"github.com/Speed7701/RFR/internal/pubsub"
)

const (
	mockPodAddress = "AA:BB:CC:DD:EE:FF"
	mockPodName    = "RFR Mock Pod"

	// Default start position: the Green Lake loop in Seattle.
	mockStartLatitude  = 47.6805
	mockStartLongitude = -122.3397
)

// metersPerDegreeLatitude is close enough for simulating a runner.
const metersPerDegreeLatitude = 111194.9

// MockPod simulates a BLE location pod: it advertises the Location and
// Navigation service, walks a synthetic runner across the map once per
// second, and emits Location and Speed notifications. An embedded HTTP
// panel steers the simulation.
type MockPod struct {
	logger *log.Logger

	mu             sync.RWMutex
	state          ble.DeviceState
	lastSeen       time.Time
	latitude       float64
	longitude      float64
	speedMps       float64
	headingDeg     float64
	accuracyMeters float64
	moving         bool
	totalDistance  float64
	notifyFn       func([]byte)
	controlWrites  []string
}

var _ ble.Device = (*MockPod)(nil)

func newMockPod(logger *log.Logger) *MockPod {
	return &MockPod{
		logger:         logger,
		state:          ble.StateDisconnected,
		lastSeen:       time.Now(),
		latitude:       mockStartLatitude,
		longitude:      mockStartLongitude,
		speedMps:       2.8, // easy jog
		headingDeg:     90,
		accuracyMeters: 8,
		moving:         true,
	}
}

func (p *MockPod) AddressString() string { return mockPodAddress }
func (p *MockPod) LocalName() string     { return mockPodName }

func (p *MockPod) RSSI() (int16, error) { return -52, nil }

func (p *MockPod) State() ble.DeviceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *MockPod) IsConnected() bool {
	return p.State() == ble.StateConnected
}

func (p *MockPod) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

func (p *MockPod) WaitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if p.IsConnected() {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("mock pod: connection timed out after %v", timeout)
		}
	}
}

func (p *MockPod) EnableNotifications(serviceUUID, charUUID string, fn func(buf []byte)) error {
	if serviceUUID != ServiceUUIDLocationAndNavigation || charUUID != CharUUIDLocationAndSpeed {
		return fmt.Errorf("mock pod: no notifications for %s/%s", serviceUUID, charUUID)
	}
	p.mu.Lock()
	p.notifyFn = fn
	p.mu.Unlock()
	p.logger.Printf("MockPod: notifications enabled")
	return nil
}

func (p *MockPod) DisableNotifications(serviceUUID, charUUID string) error {
	if serviceUUID != ServiceUUIDLocationAndNavigation || charUUID != CharUUIDLocationAndSpeed {
		return fmt.Errorf("mock pod: no notifications for %s/%s", serviceUUID, charUUID)
	}
	p.mu.Lock()
	p.notifyFn = nil
	p.mu.Unlock()
	p.logger.Printf("MockPod: notifications disabled")
	return nil
}

func (p *MockPod) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	if serviceUUID == ServiceUUIDLocationAndNavigation && charUUID == CharUUIDPositionQuality {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return EncodePositionQuality(p.accuracyMeters), nil
	}
	return nil, fmt.Errorf("mock pod: unknown characteristic %s/%s", serviceUUID, charUUID)
}

func (p *MockPod) WriteCharacteristic(serviceUUID, charUUID string, data []byte) error {
	if serviceUUID != ServiceUUIDLocationAndNavigation || charUUID != CharUUIDLNControlPoint {
		return fmt.Errorf("mock pod: unknown characteristic %s/%s", serviceUUID, charUUID)
	}

	p.mu.Lock()
	p.controlWrites = append(p.controlWrites, hex.EncodeToString(data))
	if len(data) > 0 && data[0] == 0x01 {
		// Set Cumulative Value: restart the distance counter
		p.totalDistance = 0
	}
	p.mu.Unlock()

	p.logger.Printf("MockPod: control point write %s", hex.EncodeToString(data))
	return nil
}

func (p *MockPod) ServiceUUIDs() []string {
	return []string{ServiceUUIDLocationAndNavigation}
}

func (p *MockPod) HasServiceUUID(uuid string) bool {
	return uuid == ServiceUUIDLocationAndNavigation
}

// setState is used by the mock manager during connect/disconnect.
func (p *MockPod) setState(state ble.DeviceState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// tick advances the simulated runner by one second and returns the
// notification payload to emit, or nil when nothing should be sent.
func (p *MockPod) tick() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastSeen = time.Now()

	if p.state != ble.StateConnected || p.notifyFn == nil {
		return nil
	}

	if p.moving && p.speedMps > 0 {
		headingRad := p.headingDeg * math.Pi / 180.0
		p.latitude += p.speedMps * math.Cos(headingRad) / metersPerDegreeLatitude
		p.longitude += p.speedMps * math.Sin(headingRad) /
			(metersPerDegreeLatitude * math.Cos(p.latitude*math.Pi/180.0))
		p.totalDistance += p.speedMps
	}

	speed := p.speedMps
	if !p.moving {
		speed = 0
	}
	return EncodeLocationAndSpeed(p.latitude, p.longitude, speed, p.totalDistance)
}

func (p *MockPod) notify(payload []byte) {
	p.mu.RLock()
	fn := p.notifyFn
	p.mu.RUnlock()
	if fn != nil && payload != nil {
		fn(payload)
	}
}

// podState is the JSON shape served by the control panel API.
type podState struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	SpeedMps       float64 `json:"speedMps"`
	HeadingDeg     float64 `json:"headingDeg"`
	AccuracyMeters float64 `json:"accuracyMeters"`
	Moving         bool    `json:"moving"`
	Connected      bool    `json:"connected"`
	TotalDistanceM float64 `json:"totalDistanceMeters"`
}

func (p *MockPod) snapshot() podState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return podState{
		Latitude:       p.latitude,
		Longitude:      p.longitude,
		SpeedMps:       p.speedMps,
		HeadingDeg:     p.headingDeg,
		AccuracyMeters: p.accuracyMeters,
		Moving:         p.moving,
		Connected:      p.state == ble.StateConnected,
		TotalDistanceM: p.totalDistance,
	}
}

// MockManager is a drop-in ManagerInterface backed by a single MockPod,
// for development and demos without Bluetooth hardware.
type MockManager struct {
	logger *log.Logger
	pod    *MockPod
	server *http.Server

	mu       sync.RWMutex
	scanning bool

	deviceListTopic       *pubsub.Topic[[]ble.Device]
	connectedDevicesTopic *pubsub.Topic[[]ble.Device]

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

var _ ble.ManagerInterface = (*MockManager)(nil)

// NewMockManager creates the mock manager and starts its HTTP control
// panel on the given port.
func NewMockManager(port int, logger *log.Logger) *MockManager {
	if logger == nil {
		panic("MockManager: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &MockManager{
		logger:                logger,
		pod:                   newMockPod(logger),
		deviceListTopic:       pubsub.NewTopic[[]ble.Device](true),
		connectedDevicesTopic: pubsub.NewTopic[[]ble.Device](true),
		ctx:                   ctx,
		cancel:                cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/api/state", m.handleState)
	mux.HandleFunc("/api/set", m.handleSet)
	mux.HandleFunc("/api/writes", m.handleWrites)
	m.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	m.wg.Add(1)
	async.Go(logger, func() {
		defer m.wg.Done()
		m.logger.Printf("MockManager: control panel on http://localhost:%d", port)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Printf("MockManager: control panel server: %v", err)
		}
	})

	m.wg.Add(1)
	async.Go(logger, func() { m.simulationLoop() })

	return m
}

// Enable implements ManagerInterface. The mock has no radio to power up.
func (m *MockManager) Enable() error {
	m.logger.Printf("MockManager: enabled (simulated adapter)")
	return nil
}

func (m *MockManager) StartScan(serviceUUIDFilter []string) {
	m.mu.Lock()
	m.scanning = true
	m.mu.Unlock()
	m.logger.Printf("MockManager: scan started")
	m.deviceListTopic.Publish(m.ScanDevices())
}

func (m *MockManager) StopScan() {
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	m.logger.Printf("MockManager: scan stopped")
}

func (m *MockManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

func (m *MockManager) Connect(device ble.Device) error {
	if device.AddressString() != mockPodAddress {
		return fmt.Errorf("mock manager: unknown device %s", device.AddressString())
	}
	m.pod.setState(ble.StateConnecting)

	// Simulated link setup delay, then flip to connected.
	m.wg.Add(1)
	async.Go(m.logger, func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
		m.pod.setState(ble.StateConnected)
		m.logger.Printf("MockManager: pod connected")
		m.connectedDevicesTopic.Publish(m.ConnectedDevices())
	})
	return nil
}

func (m *MockManager) Disconnect(device ble.Device) error {
	if device.AddressString() != mockPodAddress {
		return fmt.Errorf("mock manager: unknown device %s", device.AddressString())
	}
	m.pod.setState(ble.StateDisconnected)
	m.logger.Printf("MockManager: pod disconnected")
	m.connectedDevicesTopic.Publish(m.ConnectedDevices())
	return nil
}

func (m *MockManager) ScanDevices() []ble.Device {
	if !m.IsScanning() && !m.pod.IsConnected() {
		return nil
	}
	return []ble.Device{m.pod}
}

func (m *MockManager) ConnectedDevices() []ble.Device {
	if m.pod.IsConnected() {
		return []ble.Device{m.pod}
	}
	return nil
}

func (m *MockManager) SubscribeDeviceList(ch chan<- []ble.Device) func() {
	return m.deviceListTopic.Subscribe(ch)
}

func (m *MockManager) SubscribeConnectedDevices(ch chan<- []ble.Device) func() {
	return m.connectedDevicesTopic.Subscribe(ch)
}

// simulationLoop advances the pod once a second and re-publishes the scan
// list while scanning.
func (m *MockManager) simulationLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			payload := m.pod.tick()
			m.pod.notify(payload)
			if m.IsScanning() {
				m.deviceListTopic.Publish(m.ScanDevices())
			}
		}
	}
}

// Shutdown stops the simulation and the control panel.
// Safe to call multiple times - only the first call has effect.
func (m *MockManager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Printf("MockManager: shutting down")
		m.cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.server.Shutdown(shutdownCtx); err != nil {
			m.logger.Printf("MockManager: control panel shutdown: %v", err)
		}

		m.wg.Wait()
		m.logger.Printf("MockManager: shutdown complete")
	})
}

func (m *MockManager) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	state := m.pod.snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, mockPanelHTML,
		state.Latitude, state.Longitude, state.SpeedMps, state.HeadingDeg,
		state.AccuracyMeters, state.Moving, state.Connected, state.TotalDistanceM)
}

func (m *MockManager) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.pod.snapshot()); err != nil {
		m.logger.Printf("MockManager: encode state: %v", err)
	}
}

// handleSet updates simulation parameters from query values, e.g.
// /api/set?speed=3.5&heading=180&moving=true
func (m *MockManager) handleSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m.pod.mu.Lock()
	if v := q.Get("lat"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m.pod.latitude = f
		}
	}
	if v := q.Get("lon"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m.pod.longitude = f
		}
	}
	if v := q.Get("speed"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			m.pod.speedMps = f
		}
	}
	if v := q.Get("heading"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m.pod.headingDeg = f
		}
	}
	if v := q.Get("accuracy"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			m.pod.accuracyMeters = f
		}
	}
	if v := q.Get("moving"); v != "" {
		m.pod.moving = v == "true" || v == "1"
	}
	m.pod.mu.Unlock()

	m.logger.Printf("MockManager: simulation parameters updated via control panel")
	m.handleState(w, r)
}

func (m *MockManager) handleWrites(w http.ResponseWriter, r *http.Request) {
	m.pod.mu.RLock()
	writes := make([]string, len(m.pod.controlWrites))
	copy(writes, m.pod.controlWrites)
	m.pod.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(writes); err != nil {
		m.logger.Printf("MockManager: encode writes: %v", err)
	}
}

const mockPanelHTML = `<!DOCTYPE html>
<html>
<head><title>RFR Mock Location Pod</title>
<style>
body { font-family: monospace; margin: 2em; background: #1e1e1e; color: #d4d4d4; }
h1 { color: #569cd6; }
table td { padding: 2px 12px 2px 0; }
code { color: #ce9178; }
</style>
</head>
<body>
<h1>RFR Mock Location Pod</h1>
<table>
<tr><td>Latitude</td><td>%.6f</td></tr>
<tr><td>Longitude</td><td>%.6f</td></tr>
<tr><td>Speed</td><td>%.2f m/s</td></tr>
<tr><td>Heading</td><td>%.0f deg</td></tr>
<tr><td>Accuracy</td><td>%.1f m</td></tr>
<tr><td>Moving</td><td>%v</td></tr>
<tr><td>Connected</td><td>%v</td></tr>
<tr><td>Total distance</td><td>%.1f m</td></tr>
</table>
<p>Steer the runner:</p>
<ul>
<li><code>GET /api/set?speed=3.5</code> change pace</li>
<li><code>GET /api/set?heading=180</code> change direction</li>
<li><code>GET /api/set?accuracy=60</code> degrade the fix (samples get rejected)</li>
<li><code>GET /api/set?moving=false</code> stand still</li>
<li><code>GET /api/state</code> JSON state</li>
<li><code>GET /api/writes</code> control point writes received</li>
</ul>
</body>
</html>
`
