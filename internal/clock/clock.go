package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so billing dates can be pinned in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the UTC wall clock.
func System() Clock { return systemClock{} }

var Module = fx.Module("clock", fx.Provide(System))
