package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

// Quote triggers
const (
	TriggerSend    Trigger = "SEND"
	TriggerView    Trigger = "VIEW"
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerExpire  Trigger = "EXPIRE"
	TriggerConvert Trigger = "CONVERT"
)

// Order triggers
const (
	TriggerStartProduction Trigger = "START_PRODUCTION"
	TriggerMarkReady       Trigger = "MARK_READY"
	TriggerShip            Trigger = "SHIP"
	TriggerDeliver         Trigger = "DELIVER"
	TriggerComplete        Trigger = "COMPLETE"
	TriggerCancel          Trigger = "CANCEL"
	TriggerRecordPayment   Trigger = "RECORD_PAYMENT"
)

// Job triggers
const (
	TriggerApproveArtwork Trigger = "APPROVE_ARTWORK"
	TriggerStart          Trigger = "START"
	TriggerSubmitQC       Trigger = "SUBMIT_QC"
	TriggerPassQC         Trigger = "PASS_QC"
	TriggerFailQC         Trigger = "FAIL_QC"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
