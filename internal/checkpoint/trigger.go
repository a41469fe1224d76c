package checkpoint

import "fmt"

// TriggerInfo carries the reason a checkpoint was requested. The
// coordinator treats it opaquely except for producing log lines.
type TriggerInfo interface {
	// Describe renders a human-readable reason, given the checkpoint
	// info the description refers to (the ongoing checkpoint, or the
	// latest published one when joining).
	Describe(info LatestCheckpointInfo) string
}

// trigger is the single concrete TriggerInfo. Variants differ only in
// their name, so a tagged value beats an inheritance ladder.
type trigger struct {
	name string
}

func (t trigger) Describe(info LatestCheckpointInfo) string {
	if !info.Known() {
		return fmt.Sprintf("Checkpoint triggered by %q", t.name)
	}
	return fmt.Sprintf("Checkpoint triggered by %q @ txID %d", t.name, info.CommittedTx.ID)
}

// Triggered creates a TriggerInfo with an arbitrary requester name.
func Triggered(name string) TriggerInfo { return trigger{name: name} }

// ScheduledTrigger is the background scheduler's trigger.
func ScheduledTrigger() TriggerInfo { return trigger{name: "scheduler"} }

// OperatorTrigger marks a checkpoint forced by an operator.
func OperatorTrigger(operator string) TriggerInfo {
	return trigger{name: fmt.Sprintf("operator %s", operator)}
}

// ShutdownTrigger marks the final checkpoint before shutdown.
func ShutdownTrigger() TriggerInfo { return trigger{name: "database shutdown"} }

// BackupTrigger marks the checkpoint taken when a backup begins.
func BackupTrigger(backupID string) TriggerInfo {
	return trigger{name: fmt.Sprintf("backup %s", backupID)}
}

// RecoveryCompleteTrigger marks the checkpoint sealing a finished
// recovery.
func RecoveryCompleteTrigger() TriggerInfo { return trigger{name: "recovery completed"} }
