package ops

import "time"

// Clock abstracts time retrieval and sleeping so the chunked writer's
// pause/remount timing is deterministic in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock uses the actual wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }
