package lockbox

import "time"

// Clock supplies the time reference the transition guards compare against.
type Clock interface {
	Now() time.Time
	Height() uint64
}

// SysClock reads wall time. Height advances one unit per second; a
// chain-backed sequence source would replace this implementation.
type SysClock struct{}

var _ Clock = SysClock{}

func (SysClock) Now() time.Time {
	return time.Now()
}

func (SysClock) Height() uint64 {
	return uint64(time.Now().Unix())
}
