// Package telemetry wraps structured logging for the engine. It is purely
// observational: nothing in here changes a returned error or the typed
// api.Trap the runtime surfaces (spec.md §7, "logging is a separate
// collaborator and is not part of this spec"). Grounded on
// github.com/sirupsen/logrus, the logging dependency shared by the other
// Wasm-adjacent repos in the retrieved pack (grafana/k6, open-policy-agent/opa) —
// the teacher's own core engine carries no logging dependency at all.
package telemetry

import "github.com/sirupsen/logrus"

// Logger is a thin, store-scoped wrapper around *logrus.Logger with the
// handful of fields this engine cares to annotate consistently.
type Logger struct {
	l *logrus.Logger
}

// New builds a Logger writing structured (field-keyed) entries. Pass nil
// to get a Logger that discards everything (the default when a host
// embeds the engine without configuring telemetry).
func New(base *logrus.Logger) Logger {
	if base == nil {
		base = logrus.New()
		base.SetOutput(discard{})
	}
	return Logger{l: base}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Instantiate logs a successful or failed instantiation.
func (g Logger) Instantiate(storeID uint64, instID uint64, moduleName string, err error) {
	fields := logrus.Fields{"store_id": storeID, "inst_id": instID, "module": moduleName}
	if err != nil {
		g.l.WithFields(fields).WithError(err).Warn("instantiate failed")
		return
	}
	g.l.WithFields(fields).Debug("instantiated")
}

// Invoke logs an invocation's outcome: done, suspended on a host call, or
// trapped.
func (g Logger) Invoke(instID uint64, name string, outcome string) {
	g.l.WithFields(logrus.Fields{"inst_id": instID, "func": name}).Debug("invoke: " + outcome)
}

// Trap logs a trap with its reason.
func (g Logger) Trap(instID uint64, reason string) {
	g.l.WithFields(logrus.Fields{"inst_id": instID}).WithField("reason", reason).Info("trap")
}
