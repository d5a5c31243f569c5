// Package journallog adapts capnslog to the systemd journal, the Go-native
// analogue of spec.md §6's "syslog initialization": when journald is
// reachable (coreos/go-systemd/v22/journal.Enabled(), which itself checks
// for /run/systemd/journal the way the original's syslog handler checks for
// its socket), RegisterIfAvailable swaps capnslog's formatter for one that
// sends each entry through journal.Send with the matching priority, instead
// of mantle/cli's default stderr StringFormatter. Grounded on
// mantle/cmd/kolet/kolet.go's direct journal.Print usage, generalized into
// a capnslog.Formatter so every package's existing plog call sites are
// unaffected.
package journallog

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/coreos/pkg/capnslog"
)

// Formatter implements capnslog.Formatter by sending each entry to the
// systemd journal.
type Formatter struct{}

var _ capnslog.Formatter = Formatter{}

// Format sends one log entry to journald, tagging it with the originating
// package and capnslog's own severity mapped to a journal priority.
func (Formatter) Format(pkg string, level capnslog.LogLevel, depth int, entries ...interface{}) {
	msg := fmt.Sprint(entries...)
	if pkg != "" {
		msg = pkg + ": " + msg
	}
	vars := map[string]string{"SYSLOG_IDENTIFIER": "debile"}
	if err := journal.Send(msg, priority(level), vars); err != nil {
		fmt.Println(msg)
	}
}

// Flush is a no-op; journal.Send is unbuffered.
func (Formatter) Flush() {}

func priority(level capnslog.LogLevel) journal.Priority {
	switch level {
	case capnslog.CRITICAL:
		return journal.PriCrit
	case capnslog.ERROR:
		return journal.PriErr
	case capnslog.WARNING:
		return journal.PriWarning
	case capnslog.NOTICE:
		return journal.PriNotice
	case capnslog.INFO:
		return journal.PriInfo
	case capnslog.DEBUG:
		return journal.PriDebug
	default:
		return journal.PriInfo
	}
}

// RegisterIfAvailable installs Formatter as capnslog's global formatter
// when journald is reachable, and reports whether it did so. Callers fall
// back to their own default (mantle/cli's StringFormatter-to-stderr) when
// it returns false.
func RegisterIfAvailable() bool {
	if !journal.Enabled() {
		return false
	}
	capnslog.SetFormatter(Formatter{})
	return true
}
