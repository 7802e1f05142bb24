package capture

import "time"

// Clock lets tests substitute a fake, deterministic time source for
// anything that would otherwise call time.Now().
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// FakeClock is a settable Clock for tests.
type FakeClock struct {
	Cur time.Time
}

func (f *FakeClock) Now() time.Time { return f.Cur }

func (f *FakeClock) Advance(d time.Duration) { f.Cur = f.Cur.Add(d) }
