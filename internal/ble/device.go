package ble

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/Speed7701/RFR/internal/safemap"
)

// DeviceState tracks the connection lifecycle of a scanned device.
type DeviceState int

const (
	StateDisconnected DeviceState = iota
	StateConnecting
	StateConnected
)

// String returns a human readable state name for the UI.
func (s DeviceState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Device is one BLE peripheral seen during scanning. GATT operations
// lazily discover and cache services and characteristics on first use.
type Device interface {
	AddressString() string
	LocalName() string
	RSSI() (int16, error)
	State() DeviceState
	IsConnected() bool
	LastSeen() time.Time

	// WaitForConnection blocks until the device reports connected or the
	// timeout expires.
	WaitForConnection(timeout time.Duration) error

	EnableNotifications(serviceUUID, charUUID string, fn func(buf []byte)) error
	DisableNotifications(serviceUUID, charUUID string) error
	ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error)
	WriteCharacteristic(serviceUUID, charUUID string, data []byte) error

	ServiceUUIDs() []string
	HasServiceUUID(uuid string) bool
}

type deviceImpl struct {
	mu         sync.RWMutex
	scanResult bluetooth.ScanResult
	lastSeen   time.Time
	state      DeviceState
	handle     *bluetooth.Device

	// bleMu serializes GATT traffic per device; the stack does not take
	// kindly to interleaved discovery and reads on the same connection.
	bleMu    sync.Mutex
	services *safemap.SafeMap[string, *bluetooth.DeviceService]
	chars    *safemap.SafeMap[string, *bluetooth.DeviceCharacteristic]
}

func newDevice(result bluetooth.ScanResult) *deviceImpl {
	return &deviceImpl{
		scanResult: result,
		lastSeen:   time.Now(),
		state:      StateDisconnected,
		services:   safemap.New[string, *bluetooth.DeviceService](),
		chars:      safemap.New[string, *bluetooth.DeviceCharacteristic](),
	}
}

func (d *deviceImpl) AddressString() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanResult.Address.String()
}

func (d *deviceImpl) LocalName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanResult.LocalName()
}

func (d *deviceImpl) RSSI() (int16, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanResult.RSSI, nil
}

func (d *deviceImpl) State() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *deviceImpl) IsConnected() bool {
	return d.State() == StateConnected
}

func (d *deviceImpl) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// updateFromScan refreshes advertisement data while scanning.
func (d *deviceImpl) updateFromScan(result bluetooth.ScanResult) {
	d.mu.Lock()
	d.scanResult = result
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

func (d *deviceImpl) recentlySeen(window time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return time.Since(d.lastSeen) <= window
}

func (d *deviceImpl) setState(state DeviceState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

// setHandle stores the connected device handle and clears stale GATT
// caches from any previous connection.
func (d *deviceImpl) setHandle(handle *bluetooth.Device) {
	d.mu.Lock()
	d.handle = handle
	d.mu.Unlock()
	d.services = safemap.New[string, *bluetooth.DeviceService]()
	d.chars = safemap.New[string, *bluetooth.DeviceCharacteristic]()
}

func (d *deviceImpl) getHandle() *bluetooth.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

func (d *deviceImpl) WaitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if d.IsConnected() {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("device %s: connection timed out after %v", d.AddressString(), timeout)
		}
	}
}

func (d *deviceImpl) ServiceUUIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	uuids := d.scanResult.ServiceUUIDs()
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, u.String())
	}
	return out
}

func (d *deviceImpl) HasServiceUUID(uuid string) bool {
	want := strings.ToLower(uuid)
	for _, u := range d.ServiceUUIDs() {
		if strings.ToLower(u) == want {
			return true
		}
	}
	return false
}

func charCacheKey(serviceUUID, charUUID string) string {
	return strings.ToLower(serviceUUID) + "_" + strings.ToLower(charUUID)
}

// characteristic resolves a characteristic handle, discovering and caching
// the device's GATT table on first use.
func (d *deviceImpl) characteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	if !d.IsConnected() {
		return nil, fmt.Errorf("device %s: not connected", d.AddressString())
	}

	key := charCacheKey(serviceUUID, charUUID)
	if char, ok := d.chars.Load(key); ok {
		return char, nil
	}

	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	// Another caller may have discovered it while we waited for bleMu.
	if char, ok := d.chars.Load(key); ok {
		return char, nil
	}

	svc, err := d.service(serviceUUID)
	if err != nil {
		return nil, err
	}

	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("device %s: discover characteristics of %s: %w", d.AddressString(), serviceUUID, err)
	}
	for i := range chars {
		c := chars[i]
		d.chars.Store(charCacheKey(serviceUUID, c.UUID().String()), &c)
	}

	if char, ok := d.chars.Load(key); ok {
		return char, nil
	}
	return nil, fmt.Errorf("device %s: characteristic %s not found in service %s", d.AddressString(), charUUID, serviceUUID)
}

// service resolves a service handle. Must be called with bleMu held.
func (d *deviceImpl) service(serviceUUID string) (*bluetooth.DeviceService, error) {
	key := strings.ToLower(serviceUUID)
	if svc, ok := d.services.Load(key); ok {
		return svc, nil
	}

	handle := d.getHandle()
	if handle == nil {
		return nil, fmt.Errorf("device %s: no connection handle", d.AddressString())
	}

	services, err := handle.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("device %s: discover services: %w", d.AddressString(), err)
	}
	for i := range services {
		s := services[i]
		d.services.Store(strings.ToLower(s.UUID().String()), &s)
	}

	if svc, ok := d.services.Load(key); ok {
		return svc, nil
	}
	return nil, fmt.Errorf("device %s: service %s not found", d.AddressString(), serviceUUID)
}

func (d *deviceImpl) EnableNotifications(serviceUUID, charUUID string, fn func(buf []byte)) error {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	d.bleMu.Lock()
	defer d.bleMu.Unlock()
	return char.EnableNotifications(fn)
}

func (d *deviceImpl) DisableNotifications(serviceUUID, charUUID string) error {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}
	d.bleMu.Lock()
	defer d.bleMu.Unlock()
	return char.EnableNotifications(nil)
}

func (d *deviceImpl) ReadCharacteristic(serviceUUID, charUUID string) ([]byte, error) {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	buf := make([]byte, 64)
	n, err := char.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("device %s: read %s: %w", d.AddressString(), charUUID, err)
	}
	return buf[:n], nil
}

func (d *deviceImpl) WriteCharacteristic(serviceUUID, charUUID string, data []byte) error {
	char, err := d.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}

	d.bleMu.Lock()
	defer d.bleMu.Unlock()

	if _, err := char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("device %s: write %s: %w", d.AddressString(), charUUID, err)
	}
	return nil
}
