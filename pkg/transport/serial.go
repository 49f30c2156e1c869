// Serial backend for the primary host link.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package transport

import (
	"io"
	"time"

	"go.bug.st/serial"

	"roastctl/pkg/errors"
)

// DefaultBaudRate matches the original firmware's serial deployment.
const DefaultBaudRate = 115200

// OpenSerial opens the USB-serial host link. The returned port has a
// short read timeout so the session's reader goroutine can notice
// shutdown instead of blocking indefinitely.
func OpenSerial(path string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.TransportOpenError(path, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, errors.TransportOpenError(path, err)
	}
	return port, nil
}
