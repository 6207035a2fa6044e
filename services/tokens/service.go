// Package tokens is the single writer path for stored portal tokens.
// Tokens are sealed by lib/tokencrypt before they hit the database and
// every status transition goes through one of the explicit operations
// here.
package tokens

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"tokenvault-backend/lib/timezone"
	"tokenvault-backend/lib/tokencrypt"
	"tokenvault-backend/services/tokens/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/tokens")

// token lifecycle states
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusInvalid = "invalid"
)

type Service struct {
	db     *sql.DB
	qry    *db.Queries
	crypto *tokencrypt.Crypto
}

func NewService(database *sql.DB, crypto *tokencrypt.Crypto) Service {
	return Service{
		db:     database,
		qry:    db.New(database),
		crypto: crypto,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

type UpsertParams struct {
	Token       string
	UserId      string
	ExtensionId string
	Account     string
	AccountType string
	NetworkCode string
	NetworkName string
	NetworkId   int64
}

// CreateOrUpdate validates, seals and stores a token. The business key
// is `Account` when present, otherwise `UserId`; when an account is
// given it canonically becomes the row's user_id as well. Repeated
// calls for the same key always land on the same row and flip it back
// to active.
func (s Service) CreateOrUpdate(ctx context.Context, p UpsertParams) (db.Token, error) {
	ctx, span := tracer.Start(ctx, "CreateOrUpdate")
	defer span.End()

	if err := ValidateToken(p.Token); err != nil {
		slog.WarnContext(ctx, "rejected token upload", "reason", err.Error(), "token", tokencrypt.Mask(p.Token))
		return db.Token{}, err
	}
	if err := ValidateUserId(p.UserId); err != nil {
		slog.WarnContext(ctx, "rejected token upload", "reason", err.Error())
		return db.Token{}, err
	}

	token := strings.TrimSpace(p.Token)
	userId := strings.TrimSpace(p.UserId)
	account := strings.TrimSpace(p.Account)
	if account != "" {
		// the account is the canonical identity of the row
		userId = account
	}
	accountType := p.AccountType
	if accountType == "" {
		accountType = "agent"
	}

	span.SetAttributes(attribute.String("user_id", userId))

	sealed, err := s.crypto.Encrypt(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	existing, err := s.findExisting(ctx, txqry, account, userId)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}

	now := timezone.Now().Unix()
	var row db.Token
	if err == nil {
		row, err = txqry.UpdateToken(ctx, db.UpdateTokenParams{
			Account:     nullString(account),
			AccountType: accountType,
			TokenValue:  sealed,
			Status:      StatusActive,
			ExtensionID: nullString(p.ExtensionId),
			NetworkCode: nullString(p.NetworkCode),
			NetworkName: nullString(p.NetworkName),
			NetworkID:   nullInt64(p.NetworkId),
			UpdatedAt:   now,
			ID:          existing.ID,
		})
		if err == nil {
			slog.InfoContext(ctx, "updated token",
				"id", row.ID, "user_id", userId, "account", account,
				"token", tokencrypt.Mask(token))
		}
	} else {
		row, err = txqry.CreateToken(ctx, db.CreateTokenParams{
			UserID:      userId,
			Account:     nullString(account),
			AccountType: accountType,
			TokenValue:  sealed,
			Status:      StatusActive,
			ExtensionID: nullString(p.ExtensionId),
			NetworkCode: nullString(p.NetworkCode),
			NetworkName: nullString(p.NetworkName),
			NetworkID:   nullInt64(p.NetworkId),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err == nil {
			slog.InfoContext(ctx, "created token",
				"id", row.ID, "user_id", userId, "account", account,
				"token", tokencrypt.Mask(token))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}

	return row, nil
}

func (s Service) findExisting(ctx context.Context, qry *db.Queries, account, userId string) (db.Token, error) {
	if account != "" {
		return qry.GetTokenByAccount(ctx, nullString(account))
	}
	return qry.GetTokenByUser(ctx, userId)
}

func (s Service) GetAll(ctx context.Context, includeExpired bool) ([]db.Token, error) {
	ctx, span := tracer.Start(ctx, "GetAll")
	defer span.End()

	var rows []db.Token
	var err error
	if includeExpired {
		rows, err = s.qry.ListTokens(ctx)
	} else {
		rows, err = s.qry.ListTokensByStatus(ctx, StatusActive)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &StorageError{Err: err}
	}
	return rows, nil
}

// GetActive returns the tokens the keep-alive cycle should probe.
func (s Service) GetActive(ctx context.Context) ([]db.Token, error) {
	return s.GetAll(ctx, false)
}

func (s Service) GetByUser(ctx context.Context, userId string) (db.Token, error) {
	ctx, span := tracer.Start(ctx, "GetByUser")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userId))

	row, err := s.qry.GetTokenByUser(ctx, strings.TrimSpace(userId))
	if errors.Is(err, sql.ErrNoRows) {
		return db.Token{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}
	return row, nil
}

func (s Service) GetById(ctx context.Context, id int64) (db.Token, error) {
	ctx, span := tracer.Start(ctx, "GetById")
	defer span.End()

	row, err := s.qry.GetToken(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Token{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return db.Token{}, &StorageError{Err: err}
	}
	return row, nil
}

// Delete removes a token row and hands back the identifiers the caller
// needs to notify the owning agent connection.
func (s Service) Delete(ctx context.Context, id int64) (userId string, extensionId string, err error) {
	ctx, span := tracer.Start(ctx, "Delete")
	defer span.End()

	row, err := s.GetById(ctx, id)
	if err != nil {
		return "", "", err
	}

	affected, err := s.qry.DeleteToken(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", &StorageError{Err: err}
	}
	if affected == 0 {
		return "", "", ErrNotFound
	}

	slog.InfoContext(ctx, "deleted token", "id", id, "user_id", row.UserID)
	return row.UserID, row.ExtensionID.String, nil
}

func (s Service) UpdateStatus(ctx context.Context, id int64, status string) error {
	ctx, span := tracer.Start(ctx, "UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("status", status))

	affected, err := s.qry.UpdateTokenStatus(ctx, db.UpdateTokenStatusParams{
		Status:    status,
		UpdatedAt: timezone.Now().Unix(),
		ID:        id,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StorageError{Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}

	slog.InfoContext(ctx, "token status changed", "id", id, "status", status)
	return nil
}

func (s Service) UpdateLastActive(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "UpdateLastActive")
	defer span.End()

	now := timezone.Now().Unix()
	affected, err := s.qry.UpdateTokenLastActive(ctx, db.UpdateTokenLastActiveParams{
		LastActiveAt: sql.NullInt64{Int64: now, Valid: true},
		UpdatedAt:    now,
		ID:           id,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StorageError{Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Decrypt opens a stored token value. The plaintext must only ever
// live transiently in the caller's memory.
func (s Service) Decrypt(sealed string) (string, error) {
	return s.crypto.Decrypt(sealed)
}

// MaskedToken renders a row's token for display without ever exposing
// the middle of the secret.
func (s Service) MaskedToken(row db.Token) string {
	plaintext, err := s.crypto.Decrypt(row.TokenValue)
	if err != nil {
		return tokencrypt.Placeholder
	}
	return tokencrypt.Mask(plaintext)
}
