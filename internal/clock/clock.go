// Package clock abstracts wall-clock time so billing jobs can be tested deterministically.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock returns the current time in UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystem returns a Clock backed by the system time.
func NewSystem() Clock { return systemClock{} }

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
