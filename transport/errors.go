package transport

import "errors"

var (
	errConnClosed    = errors.New("transport: connection closed")
	errSendQueueFull = errors.New("transport: send queue full")
)
