package serialmux

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
)

// RealPortOpener opens hardware ports through go.bug.st/serial. The read
// timeout is applied by the SerialMux that monitors the port.
var RealPortOpener PortOpener = PortOpenerFunc(openRealPort)

func openRealPort(path string, opts PortOptions) (SerialPorter, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// AvailablePorts lists the serial ports present on the host, sorted by name.
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
