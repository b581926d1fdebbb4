package flight

import (
	"runtime"
	"syscall"

	"github.com/banshee-data/velocity.report/internal/monitoring"
)

// raisePriority nudges the process scheduling priority above normal on
// platforms that support it (spec.md §4.5: "raises process priority above
// normal"). No example repo in the retrieved pack demonstrates process
// priority elevation, so this uses syscall.Setpriority directly rather than
// a third-party dependency; failure is logged and non-fatal, matching the
// "missing timeout is an error condition logged but not fatal" tone used
// throughout this codebase.
func raisePriority() {
	if runtime.GOOS != "linux" {
		return
	}
	const lowerIsHigherPriority = -5
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, lowerIsHigherPriority); err != nil {
		monitoring.Logf("flight: failed to raise process priority: %v", err)
	}
}
