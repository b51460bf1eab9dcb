package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// DeviceEvent is emitted when clock-capable inputs connect/disconnect
type DeviceEvent struct {
	Type DeviceEventType
	ID   string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// InputHandler receives decoded inbound messages with a local receive time
type InputHandler func(msg gomidi.Message, at time.Time)

// DeviceManager handles hot-plug detection of MIDI inputs and attaches a
// message handler to ports matching a name filter (empty filter = any port)
type DeviceManager struct {
	inputs   map[string]func() // open port id -> listener stop func
	mu       sync.RWMutex
	events   chan DeviceEvent
	pollRate time.Duration

	filter  string
	handler InputHandler
}

// NewDeviceManager creates a device manager routing inbound messages from
// ports whose name contains filter to handler
func NewDeviceManager(filter string, handler InputHandler) *DeviceManager {
	return &DeviceManager{
		inputs:   make(map[string]func()),
		events:   make(chan DeviceEvent, 16),
		pollRate: time.Second,
		filter:   strings.ToLower(filter),
		handler:  handler,
	}
}

// Events returns a channel of device connect/disconnect events. The
// channel is for monitoring; events are dropped rather than letting a
// slow or absent consumer stall the poll loop.
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

func (dm *DeviceManager) notify(ev DeviceEvent) {
	select {
	case dm.events <- ev:
	default:
	}
}

// Connected returns a snapshot of connected input port names
func (dm *DeviceManager) Connected() []string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	names := make([]string, 0, len(dm.inputs))
	for id := range dm.inputs {
		names = append(names, id)
	}
	return names
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

func (dm *DeviceManager) scan() {
	// Get current MIDI ports with timeout (CoreMIDI can hang)
	ch := make(chan []drivers.In, 1)
	go func() {
		ch <- gomidi.GetInPorts()
	}()

	var inPorts []drivers.In
	select {
	case inPorts = <-ch:
	case <-time.After(3 * time.Second):
		// Driver is hung - skip this scan
		return
	}

	seenIDs := make(map[string]bool)

	for i, inPort := range inPorts {
		name := strings.ToLower(inPort.String())
		if dm.filter != "" && !strings.Contains(name, dm.filter) {
			continue
		}
		id := inPort.String()
		seenIDs[id] = true

		dm.mu.RLock()
		_, exists := dm.inputs[id]
		dm.mu.RUnlock()

		if !exists {
			stop, err := dm.listen(inPorts[i])
			if err != nil {
				continue
			}

			dm.mu.Lock()
			dm.inputs[id] = stop
			dm.mu.Unlock()

			dm.notify(DeviceEvent{Type: DeviceConnected, ID: id})
		}
	}

	// Check for disconnects
	dm.mu.Lock()
	var toRemove []string
	for id := range dm.inputs {
		if !seenIDs[id] {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		dm.inputs[id]()
		delete(dm.inputs, id)
		dm.notify(DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
	dm.mu.Unlock()
}

// listen opens an input port and forwards messages to the handler. The
// driver callback timestamp is millisecond-resolution, so we capture our
// own receive time for clock interval math.
func (dm *DeviceManager) listen(inPort drivers.In) (func(), error) {
	handler := dm.handler
	return gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		if handler != nil {
			handler(msg, time.Now())
		}
	})
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, stop := range dm.inputs {
		stop()
	}
	dm.inputs = make(map[string]func())
}
