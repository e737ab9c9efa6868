package market

import "time"

// Clock abstracts time for deterministic window tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the default wall clock.
var SystemClock Clock = realClock{}
