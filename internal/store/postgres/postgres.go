// Package postgres implements the store interfaces on pgx. Embedded
// sender/recipient/AML documents are stored as JSONB; optimistic concurrency
// is enforced with an updated_at_ts guard on every UPDATE.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/store"
)

type TransferStore struct {
	db *pgxpool.Pool
}

func NewTransferStore(db *pgxpool.Pool) *TransferStore {
	return &TransferStore{db: db}
}

const transferColumns = `id, cnp_person_id, switch_transfer_id, idempotency_key,
	amount_sent, currency_sent, fx_rate, amount_received, currency_received,
	concept, status, cancel_reason, rail_payment_id, initiated_at_ts,
	completed_at_ts, updated_at_ts, sender_info, recipient_info, aml_response,
	settlement_event_id`

func (s *TransferStore) Create(ctx context.Context, t *models.Transfer) error {
	senderJSON, recipientJSON, amlJSON, err := marshalEmbedded(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		t.ID, t.CnpPersonID, t.SwitchTransferID, t.IdempotencyKey,
		t.AmountSent, t.CurrencySent, t.FxRate, t.AmountReceived, t.CurrencyReceived,
		t.Concept, t.Status, t.CancelReason, t.RailPaymentID, t.InitiatedAt,
		t.CompletedAt, t.UpdatedAt, senderJSON, recipientJSON, amlJSON,
		t.SettlementEventID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "transfers_idempotency_key_key" {
				return domain.ErrDuplicateRequest
			}
			return domain.ErrConflict
		}
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *TransferStore) Load(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	return scanTransfer(row)
}

func (s *TransferStore) Update(ctx context.Context, t *models.Transfer, expectedUpdatedAt time.Time) error {
	senderJSON, recipientJSON, amlJSON, err := marshalEmbedded(t)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE transfers SET
			switch_transfer_id = $2, fx_rate = $3, amount_received = $4,
			status = $5, cancel_reason = $6, completed_at_ts = $7,
			updated_at_ts = $8, sender_info = $9, recipient_info = $10,
			aml_response = $11, settlement_event_id = $12
		WHERE id = $1 AND updated_at_ts = $13`,
		t.ID, t.SwitchTransferID, t.FxRate, t.AmountReceived,
		t.Status, t.CancelReason, t.CompletedAt,
		t.UpdatedAt, senderJSON, recipientJSON,
		amlJSON, t.SettlementEventID, expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is gone or updated_at_ts moved under us.
		if _, loadErr := s.Load(ctx, t.ID); errors.Is(loadErr, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

func (s *TransferStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transfer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, key)
	return scanTransfer(row)
}

func (s *TransferStore) FindByRailPaymentID(ctx context.Context, railPaymentID string) (*models.Transfer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE rail_payment_id = $1`, railPaymentID)
	return scanTransfer(row)
}

func (s *TransferStore) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transfer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE status = $1 AND initiated_at_ts < $2
		ORDER BY initiated_at_ts ASC
		LIMIT $3`, domain.TransferStatusPending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending transfers: %w", err)
	}
	defer rows.Close()

	var out []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func marshalEmbedded(t *models.Transfer) (sender, recipient, aml []byte, err error) {
	if sender, err = json.Marshal(t.SenderInfo); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal sender info: %w", err)
	}
	if recipient, err = json.Marshal(t.RecipientInfo); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal recipient info: %w", err)
	}
	if t.AmlResponse != nil {
		if aml, err = json.Marshal(t.AmlResponse); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal aml response: %w", err)
		}
	}
	return sender, recipient, aml, nil
}

func scanTransfer(row pgx.Row) (*models.Transfer, error) {
	var (
		t             models.Transfer
		senderJSON    []byte
		recipientJSON []byte
		amlJSON       []byte
	)
	err := row.Scan(
		&t.ID, &t.CnpPersonID, &t.SwitchTransferID, &t.IdempotencyKey,
		&t.AmountSent, &t.CurrencySent, &t.FxRate, &t.AmountReceived, &t.CurrencyReceived,
		&t.Concept, &t.Status, &t.CancelReason, &t.RailPaymentID, &t.InitiatedAt,
		&t.CompletedAt, &t.UpdatedAt, &senderJSON, &recipientJSON, &amlJSON,
		&t.SettlementEventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}
	if err := json.Unmarshal(senderJSON, &t.SenderInfo); err != nil {
		return nil, fmt.Errorf("unmarshal sender info: %w", err)
	}
	if err := json.Unmarshal(recipientJSON, &t.RecipientInfo); err != nil {
		return nil, fmt.Errorf("unmarshal recipient info: %w", err)
	}
	if len(amlJSON) > 0 {
		t.AmlResponse = &models.AmlValidationResponse{}
		if err := json.Unmarshal(amlJSON, t.AmlResponse); err != nil {
			return nil, fmt.Errorf("unmarshal aml response: %w", err)
		}
	}
	return &t, nil
}

type RateStore struct {
	db *pgxpool.Pool
}

func NewRateStore(db *pgxpool.Pool) *RateStore {
	return &RateStore{db: db}
}

func (s *RateStore) Insert(ctx context.Context, rate models.ExchangeRate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO exchange_rates (base, asset_code, date_ts, exchange_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (base, asset_code, date_ts) DO NOTHING`,
		rate.Base, rate.AssetCode, rate.Date, rate.ExchangeValue)
	if err != nil {
		return fmt.Errorf("insert exchange rate: %w", err)
	}
	return nil
}

func (s *RateStore) InsertBatch(ctx context.Context, rates []models.ExchangeRate) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, rate := range rates {
			_, err := tx.Exec(ctx, `
				INSERT INTO exchange_rates (base, asset_code, date_ts, exchange_value)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (base, asset_code, date_ts) DO NOTHING`,
				rate.Base, rate.AssetCode, rate.Date, rate.ExchangeValue)
			if err != nil {
				return fmt.Errorf("insert exchange rate: %w", err)
			}
		}
		return nil
	})
}

func (s *RateStore) LatestNotAfter(ctx context.Context, base, assetCode string, asOf time.Time) (models.ExchangeRate, error) {
	var rate models.ExchangeRate
	err := s.db.QueryRow(ctx, `
		SELECT base, asset_code, date_ts, exchange_value
		FROM exchange_rates
		WHERE base = $1 AND asset_code = $2 AND date_ts <= $3
		ORDER BY date_ts DESC
		LIMIT 1`, base, assetCode, asOf).
		Scan(&rate.Base, &rate.AssetCode, &rate.Date, &rate.ExchangeValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ExchangeRate{}, domain.ErrNotFound
		}
		return models.ExchangeRate{}, fmt.Errorf("select exchange rate: %w", err)
	}
	return rate, nil
}

type AmlStore struct {
	db *pgxpool.Pool
}

func NewAmlStore(db *pgxpool.Pool) *AmlStore {
	return &AmlStore{db: db}
}

func (s *AmlStore) InsertValidation(ctx context.Context, v models.AmlValidation) error {
	var resultJSON []byte
	if v.Result != nil {
		var err error
		if resultJSON, err = json.Marshal(v.Result); err != nil {
			return fmt.Errorf("marshal aml result: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO aml_validations (created_at, rail_payment_id, transfer_id, amount, full_name, address_state, date_of_birth, curp, result)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		v.CreatedAt, v.RailPaymentID, v.TransferID, v.Amount, v.FullName, v.AddressState, v.DateOfBirth, v.CURP, resultJSON)
	if err != nil {
		return fmt.Errorf("insert aml validation: %w", err)
	}
	return nil
}

func (s *AmlStore) ListValidations(ctx context.Context, transferID uuid.UUID) ([]models.AmlValidation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT created_at, rail_payment_id, transfer_id, amount, full_name, address_state, date_of_birth, curp, result
		FROM aml_validations WHERE transfer_id = $1 ORDER BY created_at ASC`, transferID)
	if err != nil {
		return nil, fmt.Errorf("list aml validations: %w", err)
	}
	defer rows.Close()

	var out []models.AmlValidation
	for rows.Next() {
		var (
			v          models.AmlValidation
			resultJSON []byte
		)
		if err := rows.Scan(&v.CreatedAt, &v.RailPaymentID, &v.TransferID, &v.Amount, &v.FullName, &v.AddressState, &v.DateOfBirth, &v.CURP, &resultJSON); err != nil {
			return nil, fmt.Errorf("scan aml validation: %w", err)
		}
		if len(resultJSON) > 0 {
			v.Result = &models.AmlValidationResponse{}
			if err := json.Unmarshal(resultJSON, v.Result); err != nil {
				return nil, fmt.Errorf("unmarshal aml result: %w", err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type AuditStore struct {
	db *pgxpool.Pool
}

func NewAuditStore(db *pgxpool.Pool) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, rec store.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.EntityType, rec.EntityID, rec.Action, rec.PrevState, rec.NextState, rec.Metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type DeadLetterStore struct {
	db *pgxpool.Pool
}

func NewDeadLetterStore(db *pgxpool.Pool) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

func (s *DeadLetterStore) Append(ctx context.Context, dl models.DeadLetter) error {
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO dead_letters (event_id, transfer_id, reason, attempts, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (event_id) DO NOTHING`,
		dl.EventID, dl.TransferID, dl.Reason, dl.Attempts, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, transfer_id, reason, attempts, created_at
		FROM dead_letters ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		if err := rows.Scan(&dl.EventID, &dl.TransferID, &dl.Reason, &dl.Attempts, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

type ReportStore struct {
	db *pgxpool.Pool
}

func NewReportStore(db *pgxpool.Pool) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) Enqueue(ctx context.Context, pub models.TransferPublishObject) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO switch_reports (transfer_id, transfer_date, sender_institution_id, recipient_institution_id, outcome, attempts, next_attempt)
		VALUES ($1,$2,$3,$4,$5,0,NOW())
		ON CONFLICT (transfer_id) DO NOTHING`,
		pub.TransferID, pub.TransferDate, pub.SenderInstitutionID, pub.RecipientInstitutionID, pub.Outcome)
	if err != nil {
		return fmt.Errorf("enqueue switch report: %w", err)
	}
	return nil
}

func (s *ReportStore) ListDue(ctx context.Context, now time.Time, limit int) ([]store.PendingReport, error) {
	rows, err := s.db.Query(ctx, `
		SELECT transfer_id, transfer_date, sender_institution_id, recipient_institution_id, outcome, attempts, next_attempt, COALESCE(last_error, '')
		FROM switch_reports
		WHERE delivered_at IS NULL AND next_attempt <= $1
		ORDER BY transfer_date ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due switch reports: %w", err)
	}
	defer rows.Close()

	var out []store.PendingReport
	for rows.Next() {
		var rep store.PendingReport
		if err := rows.Scan(
			&rep.Publish.TransferID, &rep.Publish.TransferDate,
			&rep.Publish.SenderInstitutionID, &rep.Publish.RecipientInstitutionID,
			&rep.Publish.Outcome, &rep.Attempts, &rep.NextAttempt, &rep.LastError); err != nil {
			return nil, fmt.Errorf("scan switch report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (s *ReportStore) MarkDelivered(ctx context.Context, transferID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE switch_reports SET delivered_at = NOW() WHERE transfer_id = $1`, transferID)
	if err != nil {
		return fmt.Errorf("mark switch report delivered: %w", err)
	}
	return nil
}

func (s *ReportStore) MarkAttempted(ctx context.Context, transferID uuid.UUID, nextAttempt time.Time, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE switch_reports SET attempts = attempts + 1, next_attempt = $2, last_error = $3
		WHERE transfer_id = $1`, transferID, nextAttempt, lastError)
	if err != nil {
		return fmt.Errorf("mark switch report attempted: %w", err)
	}
	return nil
}

type PartyStore struct {
	db *pgxpool.Pool
}

func NewPartyStore(db *pgxpool.Pool) *PartyStore {
	return &PartyStore{db: db}
}

func (s *PartyStore) GetPerson(ctx context.Context, id string) (models.Person, error) {
	var p models.Person
	err := s.db.QueryRow(ctx, `
		SELECT id, ine, passport, curp, created_at_ts, last_updated_ts
		FROM persons WHERE id = $1`, id).
		Scan(&p.ID, &p.INE, &p.Passport, &p.CURP, &p.CreatedAt, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Person{}, domain.ErrNotFound
		}
		return models.Person{}, fmt.Errorf("select person: %w", err)
	}
	return p, nil
}

func (s *PartyStore) GetCnpParty(ctx context.Context, cnpPersonID string) (models.CnpParty, error) {
	var p models.CnpParty
	err := s.db.QueryRow(ctx, `
		SELECT full_name, recipient_institution_id, cnp_person_id, date_of_birth, country_of_birth,
			address_state, full_address, citizenship, account_disabled, msisdn, created_at_ts, last_updated_ts
		FROM cnp_parties WHERE cnp_person_id = $1`, cnpPersonID).
		Scan(&p.FullName, &p.RecipientInstitutionID, &p.CnpPersonID, &p.DateOfBirth, &p.CountryOfBirth,
			&p.AddressState, &p.FullAddress, &p.Citizenship, &p.AccountDisabled, &p.MSISDN, &p.CreatedAt, &p.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CnpParty{}, domain.ErrNotFound
		}
		return models.CnpParty{}, fmt.Errorf("select cnp party: %w", err)
	}
	return p, nil
}

func (s *PartyStore) GetSwitchParty(ctx context.Context, partyID string) (models.SwitchParty, error) {
	var p models.SwitchParty
	err := s.db.QueryRow(ctx, `
		SELECT full_name, first_names, father_surname, mother_surname, recipient_institution_id,
			national_id, date_of_birth, country_of_birth, address_state, full_address, citizenship,
			account_disabled, id_type, id
		FROM switch_parties WHERE id = $1`, partyID).
		Scan(&p.FullName, &p.FirstNames, &p.FatherSurname, &p.MotherSurname, &p.RecipientInstitutionID,
			&p.NationalID, &p.DateOfBirth, &p.CountryOfBirth, &p.AddressState, &p.FullAddress, &p.Citizenship,
			&p.AccountDisabled, &p.IDType, &p.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SwitchParty{}, domain.ErrNotFound
		}
		return models.SwitchParty{}, fmt.Errorf("select switch party: %w", err)
	}
	return p, nil
}

func (s *PartyStore) PutPerson(ctx context.Context, p models.Person) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO persons (id, ine, passport, curp, created_at_ts, last_updated_ts)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET ine = $2, passport = $3, curp = $4, last_updated_ts = $6`,
		p.ID, p.INE, p.Passport, p.CURP, p.CreatedAt, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert person: %w", err)
	}
	return nil
}

func (s *PartyStore) PutCnpParty(ctx context.Context, p models.CnpParty) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO cnp_parties (full_name, recipient_institution_id, cnp_person_id, date_of_birth, country_of_birth,
			address_state, full_address, citizenship, account_disabled, msisdn, created_at_ts, last_updated_ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (cnp_person_id) DO UPDATE SET
			full_name = $1, recipient_institution_id = $2, date_of_birth = $4, country_of_birth = $5,
			address_state = $6, full_address = $7, citizenship = $8, account_disabled = $9,
			msisdn = $10, last_updated_ts = $12`,
		p.FullName, p.RecipientInstitutionID, p.CnpPersonID, p.DateOfBirth, p.CountryOfBirth,
		p.AddressState, p.FullAddress, p.Citizenship, p.AccountDisabled, p.MSISDN, p.CreatedAt, p.LastUpdated)
	if err != nil {
		return fmt.Errorf("upsert cnp party: %w", err)
	}
	return nil
}

func (s *PartyStore) PutSwitchParty(ctx context.Context, p models.SwitchParty) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO switch_parties (full_name, first_names, father_surname, mother_surname, recipient_institution_id,
			national_id, date_of_birth, country_of_birth, address_state, full_address, citizenship,
			account_disabled, id_type, id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			full_name = $1, first_names = $2, father_surname = $3, mother_surname = $4,
			recipient_institution_id = $5, national_id = $6, date_of_birth = $7, country_of_birth = $8,
			address_state = $9, full_address = $10, citizenship = $11, account_disabled = $12, id_type = $13`,
		p.FullName, p.FirstNames, p.FatherSurname, p.MotherSurname, p.RecipientInstitutionID,
		p.NationalID, p.DateOfBirth, p.CountryOfBirth, p.AddressState, p.FullAddress, p.Citizenship,
		p.AccountDisabled, p.IDType, p.ID)
	if err != nil {
		return fmt.Errorf("upsert switch party: %w", err)
	}
	return nil
}
