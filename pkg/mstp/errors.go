package mstp

import "errors"

// ErrQueueFull is returned by SubmitTX when the TX queue is already at
// capacity (§7 "TX queue full").
var ErrQueueFull = errors.New("mstp: tx queue full")

// ErrClosed is returned by operations attempted after the engine has
// been torn down.
var ErrClosed = errors.New("mstp: engine closed")
