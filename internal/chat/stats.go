package chat

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds process-lifetime counters reported by the /stats command.
// The message counter covers successfully routed chat messages only;
// command replies and system notices are not counted.
type Stats struct {
	messages  atomic.Int64
	startTime time.Time
}

// NewStats fixes the start time at server construction.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// CountMessage increments the routed-message counter.
func (st *Stats) CountMessage() {
	st.messages.Add(1)
}

// Messages returns the number of chat messages routed so far.
func (st *Stats) Messages() int64 {
	return st.messages.Load()
}

// Uptime returns the time elapsed since server construction.
func (st *Stats) Uptime() time.Duration {
	return time.Since(st.startTime)
}

// FormatUptime renders a duration as H:MM:SS with unbounded hours,
// matching the original report format.
func FormatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
