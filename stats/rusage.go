package stats

import (
	"syscall"
	"time"
)

// timevalSeconds converts a syscall.Timeval to fractional seconds.
func timevalSeconds(tv syscall.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// CaptureResourceUsage calls getrusage(2) via RUSAGE_SELF and folds the
// result, plus the wall-clock elapsed since start, into s.ResourceUsage.
// Grounded on the original bs_call's rusage.rs, which wraps libc::getrusage
// the same way for its own end-of-run resource report.
func (s *Sample) CaptureResourceUsage(start time.Time) error {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return err
	}
	s.ResourceUsage.WallSeconds = time.Since(start).Seconds()
	s.ResourceUsage.UserSeconds = timevalSeconds(ru.Utime)
	s.ResourceUsage.SysSeconds = timevalSeconds(ru.Stime)
	s.ResourceUsage.MaxRSSKB = int64(ru.Maxrss)
	return nil
}
