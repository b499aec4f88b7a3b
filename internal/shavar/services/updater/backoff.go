package updater

import "time"

const (
	// firstErrorDelay is the retry delay after a single failure; no fuzz.
	firstErrorDelay = time.Minute
	// backOffStep is the base of the multiplicative schedule from the
	// second failure on.
	backOffStep = 30 * time.Minute
	// maxBackOff caps the schedule; once reached every further failure
	// waits exactly this long.
	maxBackOff = 480 * time.Minute
)

// backOffSchedule computes retry intervals for consecutive failures:
// 0 errors -> base, 1 error -> 60s, n>=2 errors -> 30min * 2^(n-2)
// stretched by a fuzz factor drawn once at construction, capped at 8h.
// A success resets the error count and returns the base interval.
type backOffSchedule struct {
	base   time.Duration
	fuzz   float64 // in [0,1)
	errors int
}

func newBackOffSchedule(base time.Duration, fuzz float64) *backOffSchedule {
	return &backOffSchedule{base: base, fuzz: fuzz}
}

// next returns the interval until the following attempt. failed records
// whether the attempt just completed was an error.
func (s *backOffSchedule) next(failed bool) time.Duration {
	if !failed {
		s.errors = 0
		return s.base
	}
	s.errors++
	if s.errors == 1 {
		return firstErrorDelay
	}

	shift := s.errors - 2
	if shift > 4 {
		shift = 4 // 30min << 4 == maxBackOff
	}
	mult := backOffStep << shift
	if mult >= maxBackOff {
		return maxBackOff
	}
	interval := time.Duration(float64(mult) * (1 + s.fuzz))
	if interval > maxBackOff {
		interval = maxBackOff
	}
	return interval
}

// errorCount reports consecutive failures since the last success.
func (s *backOffSchedule) errorCount() int { return s.errors }
