package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// Output manages MIDI output ports, lazily opened and cached by name
type Output struct {
	defaultPort string
	senders     map[string]func(gomidi.Message) error
	sendersMu   sync.RWMutex
}

// NewOutput creates an output manager with the given default port name
func NewOutput(defaultPort string) *Output {
	return &Output{
		defaultPort: defaultPort,
		senders:     make(map[string]func(gomidi.Message) error),
	}
}

// ListPorts returns the names of all available MIDI output ports
func ListPorts() []string {
	outs := gomidi.GetOutPorts()
	names := make([]string, len(outs))
	for i, out := range outs {
		names[i] = out.String()
	}
	return names
}

// ListInPorts returns the names of all available MIDI input ports
func ListInPorts() []string {
	ins := gomidi.GetInPorts()
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return names
}

// SetDefaultPort sets the default MIDI output port name
func (o *Output) SetDefaultPort(portName string) {
	o.sendersMu.Lock()
	o.defaultPort = portName
	o.sendersMu.Unlock()
}

// Sender returns a send function for the given port name, lazily opening it.
// An empty name resolves to the default port. Returns nil if no port matches.
func (o *Output) Sender(portName string) func(gomidi.Message) error {
	if portName == "" {
		o.sendersMu.RLock()
		portName = o.defaultPort
		o.sendersMu.RUnlock()
	}
	if portName == "" {
		return nil
	}

	o.sendersMu.RLock()
	if sender, ok := o.senders[portName]; ok {
		o.sendersMu.RUnlock()
		return sender
	}
	o.sendersMu.RUnlock()

	o.sendersMu.Lock()
	defer o.sendersMu.Unlock()

	// Double-check after acquiring write lock
	if sender, ok := o.senders[portName]; ok {
		return sender
	}

	for _, port := range gomidi.GetOutPorts() {
		if port.String() == portName {
			sender, err := gomidi.SendTo(port)
			if err != nil {
				return nil
			}
			o.senders[portName] = sender
			return sender
		}
	}
	return nil
}

// Send sends a message on the named port (default port if empty)
func (o *Output) Send(portName string, msg gomidi.Message) error {
	sender := o.Sender(portName)
	if sender == nil {
		return fmt.Errorf("no MIDI output port %q", portName)
	}
	return sender(msg)
}

// SendRaw sends raw wire bytes on the named port
func (o *Output) SendRaw(portName string, data []byte) error {
	return o.Send(portName, gomidi.Message(data))
}

// Close closes the MIDI driver and all open ports
func (o *Output) Close() {
	gomidi.CloseDriver()
}
