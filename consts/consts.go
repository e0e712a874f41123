package consts

import "time"

const (
	ReceiveBufferSize = 2048

	// ReceiveTimeout bounds every wait for transport data. A wait that
	// exceeds it fails with a timeout error instead of blocking forever.
	ReceiveTimeout = 5 * time.Second

	// ResponseTimeout is how long a stream may stay open before the
	// connection force-closes it and fails the request.
	ResponseTimeout = 5 * time.Second

	DefaultInitialWindowSize   = 65_535
	DefaultMaxFrameSize        = 16_384
	DefaultMaxDynamicTableSize = 4096

	// MaxWindowSize is the flow-control window ceiling (RFC 7540 §6.9.1).
	MaxWindowSize = 1<<31 - 1

	// WindowUpdateThreshold is how many received DATA bytes accumulate
	// before the connection replenishes the peer's send window.
	WindowUpdateThreshold = DefaultInitialWindowSize / 4
)
