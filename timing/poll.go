package timing

import "time"

const (
	minPollInterval = time.Second
	minInitialDelay = 2 * time.Second

	// the first poll of a finite run is made this long before it should end
	pollLead = 60.
)

// PollPolicy returns how often to ask the data server whether a run is still
// going, and how long to wait before the first poll.  cycleTime is in
// seconds.  numExposures < 1 means the run continues until stopped, in which
// case only the minimum initial delay applies.
func PollPolicy(cycleTime float64, numExposures int) (interval, initialDelay time.Duration) {
	interval = time.Duration(int64(1000*cycleTime)) * time.Millisecond
	if interval < minPollInterval {
		interval = minPollInterval
	}
	initialDelay = minInitialDelay
	if numExposures > 0 {
		d := time.Duration(int64(1000*(float64(numExposures)*cycleTime-pollLead))) * time.Millisecond
		if d > initialDelay {
			initialDelay = d
		}
	}
	return interval, initialDelay
}
