package ble

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/Speed7701/RFR/internal/async"
	"github.com/Speed7701/RFR/internal/pubsub"
)

// ManagerInterface is the surface the rest of the application uses to
// talk to the Bluetooth stack. The mock location pod provides an
// alternate implementation for development without hardware.
type ManagerInterface interface {
	Enable() error
	StartScan(serviceUUIDFilter []string)
	StopScan()
	IsScanning() bool
	Connect(device Device) error
	Disconnect(device Device) error
	ScanDevices() []Device
	ConnectedDevices() []Device
	SubscribeDeviceList(ch chan<- []Device) func()
	SubscribeConnectedDevices(ch chan<- []Device) func()
	Shutdown()
}

// Manager owns the BLE adapter: scanning, connection lifecycle, and the
// device registry. Scan results are published once a second while a scan
// runs; stale devices age out after scanTimeout.
type Manager struct {
	adapter     *bluetooth.Adapter
	logger      *log.Logger
	scanTimeout time.Duration

	mu               sync.RWMutex
	devicesByAddress map[string]*deviceImpl
	scanning         bool
	scanCancel       context.CancelFunc

	deviceListTopic       *pubsub.Topic[[]Device]
	connectedDevicesTopic *pubsub.Topic[[]Device]

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

var _ ManagerInterface = (*Manager)(nil)

// NewManager creates a Manager around the given adapter. scanTimeout is
// how long a device stays listed after its last advertisement.
func NewManager(adapter *bluetooth.Adapter, scanTimeout time.Duration, logger *log.Logger) *Manager {
	if adapter == nil {
		panic("Manager: adapter cannot be nil")
	}
	if logger == nil {
		panic("Manager: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		scanTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		adapter:               adapter,
		logger:                logger,
		scanTimeout:           scanTimeout,
		devicesByAddress:      make(map[string]*deviceImpl),
		deviceListTopic:       pubsub.NewTopic[[]Device](true),
		connectedDevicesTopic: pubsub.NewTopic[[]Device](true),
		ctx:                   ctx,
		cancel:                cancel,
	}

	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		m.handleConnectionChange(device.Address.String(), connected)
	})

	m.wg.Add(1)
	async.Go(logger, func() { m.cleanupLoop() })

	return m
}

// Enable powers up the BLE stack. Must be called once before scanning.
func (m *Manager) Enable() error {
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE adapter: %w", err)
	}
	m.logger.Printf("BLEManager: adapter enabled")
	return nil
}

// StartScan begins scanning for devices advertising any of the given
// service UUIDs. An empty filter accepts everything.
func (m *Manager) StartScan(serviceUUIDFilter []string) {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		m.logger.Printf("BLEManager: scan already running")
		return
	}
	m.scanning = true
	scanCtx, scanCancel := context.WithCancel(m.ctx)
	m.scanCancel = scanCancel
	m.mu.Unlock()

	filter := make(map[string]struct{}, len(serviceUUIDFilter))
	for _, u := range serviceUUIDFilter {
		filter[u] = struct{}{}
	}

	m.logger.Printf("BLEManager: starting scan (filter: %v)", serviceUUIDFilter)

	m.wg.Add(1)
	async.Go(m.logger, func() {
		defer m.wg.Done()
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if scanCtx.Err() != nil {
				return
			}
			m.handleScanResult(result, filter)
		})
		if err != nil {
			m.logger.Printf("BLEManager: scan ended with error: %v", err)
		}
	})

	// Emit the device list once a second while the scan runs.
	m.wg.Add(1)
	async.Go(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				m.deviceListTopic.Publish(m.ScanDevices())
			}
		}
	})
}

// StopScan stops an active scan. Safe to call when no scan is running.
func (m *Manager) StopScan() {
	m.mu.Lock()
	if !m.scanning {
		m.mu.Unlock()
		return
	}
	m.scanning = false
	scanCancel := m.scanCancel
	m.scanCancel = nil
	m.mu.Unlock()

	if scanCancel != nil {
		scanCancel()
	}
	if err := m.adapter.StopScan(); err != nil {
		m.logger.Printf("BLEManager: stop scan: %v", err)
	}
	m.logger.Printf("BLEManager: scan stopped")
}

// IsScanning reports whether a scan is currently running.
func (m *Manager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

// handleScanResult records or refreshes a scanned device.
func (m *Manager) handleScanResult(result bluetooth.ScanResult, filter map[string]struct{}) {
	if len(filter) > 0 {
		matched := false
		for _, u := range result.ServiceUUIDs() {
			if _, ok := filter[u.String()]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}

	address := result.Address.String()

	m.mu.Lock()
	dev, known := m.devicesByAddress[address]
	if known {
		dev.updateFromScan(result)
		m.mu.Unlock()
		return
	}
	dev = newDevice(result)
	m.devicesByAddress[address] = dev
	m.mu.Unlock()

	name := result.LocalName()
	if name == "" {
		name = "Unknown"
	}
	m.logger.Printf("BLEManager: found device %s (%s) RSSI %d", name, address, result.RSSI)
}

// Connect establishes a connection to a scanned device. The state moves
// to Connected via the adapter's connect handler; use WaitForConnection
// on the device to block until then.
func (m *Manager) Connect(device Device) error {
	impl, err := m.lookup(device)
	if err != nil {
		return err
	}

	if impl.IsConnected() {
		m.logger.Printf("BLEManager: device %s already connected", impl.AddressString())
		return nil
	}

	impl.setState(StateConnecting)
	m.logger.Printf("BLEManager: connecting to %s", impl.AddressString())

	impl.mu.RLock()
	address := impl.scanResult.Address
	impl.mu.RUnlock()

	handle, err := m.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		impl.setState(StateDisconnected)
		return fmt.Errorf("connect to %s: %w", impl.AddressString(), err)
	}
	impl.setHandle(&handle)

	return nil
}

// Disconnect drops the connection to a device.
func (m *Manager) Disconnect(device Device) error {
	impl, err := m.lookup(device)
	if err != nil {
		return err
	}

	handle := impl.getHandle()
	if handle == nil {
		return nil
	}
	if err := handle.Disconnect(); err != nil {
		return fmt.Errorf("disconnect from %s: %w", impl.AddressString(), err)
	}
	return nil
}

// handleConnectionChange reacts to the adapter level connect/disconnect
// callback and publishes the new connected device set.
func (m *Manager) handleConnectionChange(address string, connected bool) {
	m.mu.RLock()
	dev, known := m.devicesByAddress[address]
	m.mu.RUnlock()
	if !known {
		m.logger.Printf("BLEManager: connection change for unknown device %s (connected=%v)", address, connected)
		return
	}

	if connected {
		dev.setState(StateConnected)
		m.logger.Printf("BLEManager: device %s connected", address)
	} else {
		dev.setState(StateDisconnected)
		dev.setHandle(nil)
		m.logger.Printf("BLEManager: device %s disconnected", address)
	}

	m.connectedDevicesTopic.Publish(m.ConnectedDevices())
}

// lookup maps a Device back to the registry entry it came from.
func (m *Manager) lookup(device Device) (*deviceImpl, error) {
	if device == nil {
		return nil, fmt.Errorf("nil device")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	impl, ok := m.devicesByAddress[device.AddressString()]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", device.AddressString())
	}
	return impl, nil
}

// ScanDevices returns devices seen within the scan timeout window,
// plus anything currently connected.
func (m *Manager) ScanDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Device, 0, len(m.devicesByAddress))
	for _, dev := range m.devicesByAddress {
		if dev.IsConnected() || dev.recentlySeen(m.scanTimeout) {
			out = append(out, dev)
		}
	}
	return out
}

// ConnectedDevices returns all currently connected devices.
func (m *Manager) ConnectedDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Device, 0, 1)
	for _, dev := range m.devicesByAddress {
		if dev.IsConnected() {
			out = append(out, dev)
		}
	}
	return out
}

// SubscribeDeviceList registers a channel for scan device list updates.
// Returns a deregistration function.
func (m *Manager) SubscribeDeviceList(ch chan<- []Device) func() {
	return m.deviceListTopic.Subscribe(ch)
}

// SubscribeConnectedDevices registers a channel for connected device set
// updates. Returns a deregistration function.
func (m *Manager) SubscribeConnectedDevices(ch chan<- []Device) func() {
	return m.connectedDevicesTopic.Subscribe(ch)
}

// cleanupLoop drops devices that stopped advertising and are not
// connected, so the scan list does not accumulate ghosts.
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			removed := 0
			for address, dev := range m.devicesByAddress {
				if !dev.IsConnected() && !dev.recentlySeen(m.scanTimeout) {
					delete(m.devicesByAddress, address)
					removed++
				}
			}
			scanning := m.scanning
			m.mu.Unlock()

			if removed > 0 && scanning {
				m.deviceListTopic.Publish(m.ScanDevices())
			}
		}
	}
}

// Shutdown stops scanning and all background goroutines.
// Safe to call multiple times - only the first call has effect.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.logger.Printf("BLEManager: shutting down")
		m.StopScan()
		m.cancel()
		m.wg.Wait()
		m.logger.Printf("BLEManager: shutdown complete")
	})
}
