package location

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Speed7701/RFR/internal/async"
	"github.com/Speed7701/RFR/internal/ble"
)

// qualityPollInterval is how often the pod's Position Quality
// characteristic is re-read while a session runs.
const qualityPollInterval = 5 * time.Second

// lnResetTotalDistance is the LN Control Point "Set Cumulative Value"
// request with a zero total distance.
var lnResetTotalDistance = []byte{0x01, 0x00, 0x00, 0x00}

// PodSource streams position fixes from a connected BLE location pod into
// a sink function. It satisfies Source and may be started and stopped
// repeatedly, once per workout session.
type PodSource struct {
	logger  *log.Logger
	manager ble.ManagerInterface
	sink    func(Sample)

	mu       sync.Mutex
	device   ble.Device
	accuracy float64
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ Source = (*PodSource)(nil)

// NewPodSource creates a PodSource delivering samples to sink.
func NewPodSource(manager ble.ManagerInterface, sink func(Sample), logger *log.Logger) *PodSource {
	if manager == nil {
		panic("PodSource: manager cannot be nil")
	}
	if sink == nil {
		panic("PodSource: sink cannot be nil")
	}
	if logger == nil {
		panic("PodSource: logger cannot be nil")
	}
	return &PodSource{
		logger:   logger,
		manager:  manager,
		sink:     sink,
		accuracy: DefaultAccuracyMeters,
	}
}

// Start subscribes to the first connected pod exposing the Location and
// Navigation service. Fails when no such pod is connected.
func (s *PodSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("location source already running")
	}

	var pod ble.Device
	for _, dev := range s.manager.ConnectedDevices() {
		if dev.HasServiceUUID(ServiceUUIDLocationAndNavigation) {
			pod = dev
			break
		}
	}
	if pod == nil {
		return fmt.Errorf("no location pod connected")
	}

	// Ask the pod to restart its distance counter for this session.
	// Not all pods accept the control point, so failure is tolerable.
	if err := pod.WriteCharacteristic(ServiceUUIDLocationAndNavigation, CharUUIDLNControlPoint, lnResetTotalDistance); err != nil {
		s.logger.Printf("LocationSource: total distance reset not accepted: %v", err)
	}

	if err := pod.EnableNotifications(ServiceUUIDLocationAndNavigation, CharUUIDLocationAndSpeed, s.handleNotification); err != nil {
		return fmt.Errorf("enable location notifications: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.device = pod
	s.cancel = cancel
	s.running = true
	s.accuracy = DefaultAccuracyMeters

	s.wg.Add(1)
	async.Go(s.logger, func() { s.pollQuality(ctx, pod) })

	s.logger.Printf("LocationSource: streaming from pod %s (%s)", pod.LocalName(), pod.AddressString())
	return nil
}

// Stop unsubscribes from the pod and halts quality polling. Safe to call
// when not running.
func (s *PodSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	pod := s.device
	cancel := s.cancel
	s.device = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if err := pod.DisableNotifications(ServiceUUIDLocationAndNavigation, CharUUIDLocationAndSpeed); err != nil {
		s.logger.Printf("LocationSource: disable notifications: %v", err)
	}
	s.logger.Printf("LocationSource: stopped")
}

// handleNotification decodes one Location and Speed notification and
// forwards it as a Sample. Runs on the BLE stack's callback goroutine.
func (s *PodSource) handleNotification(buf []byte) {
	fix, err := ParseLocationAndSpeed(buf)
	if err != nil {
		s.logger.Printf("LocationSource: bad notification: %v", err)
		return
	}
	if !fix.HasLocation {
		return
	}

	s.mu.Lock()
	accuracy := s.accuracy
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	s.sink(Sample{
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyMeters: accuracy,
		Time:           time.Now(),
	})
}

// pollQuality periodically refreshes the accuracy estimate from the pod's
// Position Quality characteristic.
func (s *PodSource) pollQuality(ctx context.Context, pod ble.Device) {
	defer s.wg.Done()

	ticker := time.NewTicker(qualityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := pod.ReadCharacteristic(ServiceUUIDLocationAndNavigation, CharUUIDPositionQuality)
			if err != nil {
				// Pods without Position Quality keep the default estimate.
				continue
			}
			ehpe, ok, err := ParsePositionQuality(data)
			if err != nil || !ok {
				continue
			}
			s.mu.Lock()
			s.accuracy = ehpe
			s.mu.Unlock()
		}
	}
}
