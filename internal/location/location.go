package location

import "time"

// GATT identifiers for BLE location pods (Location and Navigation service).
const (
	ServiceUUIDLocationAndNavigation = "00001819-0000-1000-8000-00805f9b34fb"
	CharUUIDLocationAndSpeed         = "00002a67-0000-1000-8000-00805f9b34fb"
	CharUUIDPositionQuality          = "00002a69-0000-1000-8000-00805f9b34fb"
	CharUUIDLNControlPoint           = "00002a6b-0000-1000-8000-00805f9b34fb"
)

// DefaultAccuracyMeters is assumed when a pod does not expose Position
// Quality. Typical open-sky GPS accuracy.
const DefaultAccuracyMeters = 10.0

// Sample is one raw position fix as delivered by a location source.
type Sample struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	Time           time.Time
}

// Source produces position fixes and pushes them into the sink it was
// built with. The workout engine owns the lifecycle: Start when a session
// begins, Stop when it ends or aborts.
type Source interface {
	Start() error
	Stop()
}
