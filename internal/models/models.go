package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transfer is the aggregate root for a single remittance. Status transitions
// are monotonic: PENDING is the sole initial state; COMPLETED, FAILED and
// CANCELLED are terminal.
type Transfer struct {
	ID               uuid.UUID       `json:"id"`
	CnpPersonID      string          `json:"cnp_person_id"`
	SwitchTransferID *string         `json:"switch_transfer_id,omitempty"`
	IdempotencyKey   string          `json:"idempotency_key"`
	AmountSent       decimal.Decimal `json:"amount_sent"`
	CurrencySent     string          `json:"currency_code_sent"`
	FxRate           decimal.Decimal `json:"fx_rate"`
	AmountReceived   decimal.Decimal `json:"amount_received"`
	CurrencyReceived string          `json:"currency_code_received"`
	Concept          string          `json:"concept"`
	Status           string          `json:"status"`
	CancelReason     *string         `json:"cancelation_reason,omitempty"`
	RailPaymentID    string          `json:"rail_payment_id"`
	InitiatedAt      time.Time       `json:"initiated_at_ts"`
	CompletedAt      *time.Time      `json:"completed_at_ts,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at_ts"`

	SenderInfo    SenderInfo             `json:"sender_info"`
	RecipientInfo RecipientInfo          `json:"recipient_info"`
	AmlResponse   *AmlValidationResponse `json:"aml_validation_response,omitempty"`

	// SettlementEventID is set once a rail settlement event has been
	// accepted for this transfer. After that point cancellation is illegal.
	SettlementEventID *string `json:"settlement_event_id,omitempty"`
}

// IsTerminal reports whether the transfer reached a final state.
func (t *Transfer) IsTerminal() bool {
	switch t.Status {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// AmlResolved reports whether an AML decision has been applied.
func (t *Transfer) AmlResolved() bool {
	return t.AmlResponse != nil
}

type SenderInfo struct {
	FullName            string      `json:"full_name"`
	TransferReference   string      `json:"transfer_reference"`
	SenderInstitutionID string      `json:"sender_institution_id"`
	ExtensionList       []Extension `json:"extension_list,omitempty"`
}

type Extension struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RecipientInfo struct {
	FullName               string       `json:"full_name"`
	DateOfBirth            time.Time    `json:"date_of_birth"`
	AddressState           string       `json:"address_state"`
	FullAddress            string       `json:"full_address"`
	Citizenship            string       `json:"citizenship"`
	CountryOfBirth         string       `json:"country_of_birth"`
	NationalIDs            []NationalID `json:"national_id"`
	PartyIDType            string       `json:"id_type"`
	PartyID                string       `json:"id"`
	RecipientInstitutionID string       `json:"recipient_institution_id"`
	IsLegalEntity          bool         `json:"is_legal_entity"`
	DestinationOfficeName  string       `json:"destination_office_name"`
}

// NationalID is a tagged variant: type is one of INE, PASSPORT or CURP.
type NationalID struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// CURP returns the recipient's CURP value if present.
func (r RecipientInfo) CURP() string {
	for _, id := range r.NationalIDs {
		if id.Type == "CURP" {
			return id.Value
		}
	}
	return ""
}

// AmlValidationResponse is the external validator's decision, embedded on the
// transfer once resolved.
type AmlValidationResponse struct {
	ExternalValidationID string          `json:"external_validation_id"`
	RiskLevel            string          `json:"risk_level"`
	Score                decimal.Decimal `json:"score"`
	BlockTransfer        bool            `json:"block_transfer"`
}

// AmlValidation is one immutable record per (transfer, validation attempt),
// owned by the AML gate.
type AmlValidation struct {
	CreatedAt     time.Time              `json:"created_at"`
	RailPaymentID string                 `json:"rail_payment_id"`
	TransferID    uuid.UUID              `json:"transfer_id"`
	Amount        decimal.Decimal        `json:"amount"`
	FullName      string                 `json:"full_name"`
	AddressState  string                 `json:"address_state"`
	DateOfBirth   time.Time              `json:"date_of_birth"`
	CURP          string                 `json:"curp"`
	Result        *AmlValidationResponse `json:"result,omitempty"`
}

// Person holds the national identifiers known for an onboarded individual.
type Person struct {
	ID          string    `json:"id"`
	INE         *string   `json:"ine,omitempty"`
	Passport    *string   `json:"passport,omitempty"`
	CURP        *string   `json:"curp,omitempty"`
	CreatedAt   time.Time `json:"created_at_ts"`
	LastUpdated time.Time `json:"last_updated_ts"`
}

// CnpParty is the cross-border network projection of a person. A person may
// have several.
type CnpParty struct {
	FullName               string    `json:"full_name"`
	RecipientInstitutionID string    `json:"recipient_institution_id"`
	CnpPersonID            string    `json:"cnp_person_id"`
	DateOfBirth            time.Time `json:"date_of_birth"`
	CountryOfBirth         string    `json:"country_of_birth"`
	AddressState           string    `json:"address_state"`
	FullAddress            string    `json:"full_address"`
	Citizenship            string    `json:"citizenship"`
	AccountDisabled        bool      `json:"account_disabled"`
	MSISDN                 string    `json:"msisdn"`
	CreatedAt              time.Time `json:"created_at_ts"`
	LastUpdated            time.Time `json:"last_updated_ts"`
}

// SwitchParty is the national-switch projection of a recipient.
type SwitchParty struct {
	FullName               string    `json:"full_name"`
	FirstNames             string    `json:"first_names"`
	FatherSurname          string    `json:"father_surname"`
	MotherSurname          string    `json:"mother_surname"`
	RecipientInstitutionID string    `json:"recipient_institution_id"`
	NationalID             string    `json:"national_id"`
	DateOfBirth            time.Time `json:"date_of_birth"`
	CountryOfBirth         string    `json:"country_of_birth"`
	AddressState           string    `json:"address_state"`
	FullAddress            string    `json:"full_address"`
	Citizenship            string    `json:"citizenship"`
	AccountDisabled        bool      `json:"account_disabled"`
	IDType                 string    `json:"id_type"`
	ID                     string    `json:"id"`
}

// ExchangeRate is an immutable snapshot keyed by (base, asset code, date).
type ExchangeRate struct {
	Base          string          `json:"base"`
	AssetCode     string          `json:"asset_code"`
	Date          time.Time       `json:"date_ts"`
	ExchangeValue decimal.Decimal `json:"exchange_value"`
}

// RailEvent is a settlement event produced by the payment rail. EventID is
// the deduplication key; delivery may duplicate and reorder.
type RailEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	EventData  json.RawMessage `json:"event_data"`
	ReceivedAt time.Time       `json:"received_at_ts"`
}

// SettlementOutcome is the reconciler's interpretation of a rail event.
type SettlementOutcome struct {
	EventID          string
	TransferID       uuid.UUID
	Succeeded        bool
	SwitchTransferID *string
	FailureReason    string
	ReceivedAt       time.Time
}

// TransferPublishObject is the minimal outcome record published to the
// switch after a transfer reaches COMPLETED or FAILED.
type TransferPublishObject struct {
	TransferID             uuid.UUID `json:"transfer_id"`
	TransferDate           time.Time `json:"transfer_date"`
	SenderInstitutionID    string    `json:"sender_institution_id"`
	RecipientInstitutionID string    `json:"recipient_institution_id"`
	Outcome                string    `json:"outcome"`
}

// DeadLetter records a rail event that could not be reconciled within the
// retry budget and needs manual attention.
type DeadLetter struct {
	EventID    string    `json:"event_id"`
	TransferID uuid.UUID `json:"transfer_id"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}
