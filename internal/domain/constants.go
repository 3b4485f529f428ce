package domain

const (
	TransferStatusPending   = "PENDING"
	TransferStatusCompleted = "COMPLETED"
	TransferStatusFailed    = "FAILED"
	TransferStatusCancelled = "CANCELLED"
)

// Cancellation reasons the engine itself writes. Caller-supplied cancel
// reasons are free text.
const (
	ReasonAmlBlocked = "aml_blocked"
	ReasonAmlTimeout = "aml_timeout"
)

// National identifier types accepted on a recipient.
const (
	NationalIDTypeINE      = "INE"
	NationalIDTypePassport = "PASSPORT"
	NationalIDTypeCURP     = "CURP"
)

// Switch party id types. Remittances address recipients by MSISDN.
const (
	PartyIDTypeMSISDN = "MSISDN"
	PartyIDTypeCLABE  = "CLABE"
)

// Rail settlement event types (rail webhook vocabulary).
const (
	EventOutgoingPaymentCompleted = "outgoing_payment.completed"
	EventOutgoingPaymentFailed    = "outgoing_payment.failed"
)
