package rpc

import (
	"fmt"
	"time"
)

// Limits bound what a connection accepts. Zero values mean no limit.
type Limits struct {
	MaxMessageSize     int64
	MaxStringLength    int64
	MaxMetadataEntries int

	OpenTimeout    time.Duration
	ReceiveTimeout time.Duration
	CloseTimeout   time.Duration
}

// CheckMessageSize returns ErrMessageTooLarge if n exceeds MaxMessageSize.
func (l Limits) CheckMessageSize(n int) error {
	return CheckMessageSize(n, l.MaxMessageSize)
}

func CheckMessageSize(n int, max int64) error {
	if max > 0 && int64(n) > max {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, max)
	}
	return nil
}

func (l Limits) maxString() uint32 {
	if l.MaxStringLength <= 0 || l.MaxStringLength > int64(^uint32(0)) {
		return 0
	}
	return uint32(l.MaxStringLength)
}
