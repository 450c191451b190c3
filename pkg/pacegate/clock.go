package pacegate

import "time"

// Clock supplies the limiter's notion of now. Production code uses the
// system clock; tests inject a fake to make admission math
// deterministic. All internal timing is monotonic-safe because
// time.Time carries the monotonic reading on this platform set.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
