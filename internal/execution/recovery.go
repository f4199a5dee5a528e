package execution

import (
	"log/slog"
)

// RecoverPending scans the pending table at startup. Entries whose terminal
// receipt exists are cleared as already-settled; entries without one are
// logged and cleared without re-execution. Callers re-submit with the same
// idempotency key and the duplicate path recognizes completed executions.
func (a *Adapter) RecoverPending() (recovered int, err error) {
	pending, err := a.executions.ListPendingExecutions()
	if err != nil {
		return 0, err
	}
	for _, rec := range pending {
		receipt, err := a.executions.FindReceipt(rec.HandoffID, rec.IdempotencyKey)
		if err != nil {
			return recovered, err
		}
		if receipt != nil {
			slog.Info("clearing settled pending execution",
				"handoff_id", rec.HandoffID, "execution_id", receipt.ExecutionID)
		} else {
			slog.Warn("recovering in-flight execution; clearing without replay",
				"handoff_id", rec.HandoffID,
				"completed", rec.CompletedCommandCount,
				"total", rec.TotalCommandCount,
				"last_applied", rec.LastAppliedCommand)
		}
		if err := a.executions.ClearPendingExecution(rec.HandoffID, rec.IdempotencyKey); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}
