package sync

import (
	"go.uber.org/zap"

	"example.com/synchroclock/core/state"
)

// Recover inspects the session restored at wake. A session that failed to
// load, or one holding neither samples nor accumulated drift, means power
// was lost: the session is zeroed and the newest ledger entry, which was
// never confirmed by a later poll, is invalidated. Recover reports whether
// the ledger changed and must be persisted.
func Recover(log *zap.Logger, session *state.Session, sessionErr error, ledger *state.Ledger) bool {
	if sessionErr == nil && (session.Samples.Len() != 0 || session.Drifted != 0) {
		return false
	}
	log.Info("power cycle detected, resetting session", zap.NamedError("cause", sessionErr))
	session.Reset("")
	if ledger.Adjustments.Len() == 0 {
		return false
	}
	a := ledger.Adjustments.At(0)
	if a.Timestamp == 0 {
		return false
	}
	log.Info("invalidating newest ledger entry",
		zap.Int64("timestamp", a.Timestamp),
		zap.Float64("adjustment", a.Adjustment),
	)
	a.Timestamp = 0
	ledger.Adjustments.Set(0, a)
	return true
}
