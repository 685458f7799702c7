package bus

import "time"

// Event is something that happened inside the process.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter on prefixes such as "link." or "backup.".
const (
	KindLinkStatus     = "link.status_changed"
	KindRelayMessage   = "relay.message"
	KindRecoveryBatch  = "recovery.batch"
	KindRecoveryDone   = "recovery.completed"
	KindMessageUpsert  = "message.upserted"
	KindSyncBatch      = "sync.recovery_batch"
	KindBackupComplete = "backup.completed"
	KindBackupFailed   = "backup.failed"
)
