package tokens

import (
	"context"
	"database/sql"
	"testing"
	"time"
	"tokenvault-backend/lib/telemetry"
	"tokenvault-backend/lib/tokencrypt"
	tokensdb "tokenvault-backend/services/tokens/db"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) (Service, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:services/tokens")

	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	_, err = sqlite.Exec(tokensdb.Schema)
	if err != nil {
		t.Fatal(err)
	}

	crypto, err := tokencrypt.NewFromBase64(tokencrypt.GenerateKey())
	if err != nil {
		t.Fatal(err)
	}

	return NewService(sqlite, crypto), cleanup
}

func TestUpsertIsIdempotent(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	first, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:  "first_secret_1234567890",
		UserId: "userA",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, first.Status)

	second, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:  "second_secret_0987654321",
		UserId: "userA",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := service.GetAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)

	plaintext, err := service.Decrypt(all[0].TokenValue)
	require.NoError(t, err)
	require.Equal(t, "second_secret_0987654321", plaintext)
}

func TestUpsertAccountIsCanonical(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	row, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:   "some_secret_1234567890",
		UserId:  "whatever-the-agent-said",
		Account: "A001",
	})
	require.NoError(t, err)
	require.Equal(t, "A001", row.UserID)
	require.Equal(t, "A001", row.Account.String)

	// a second upload for the same account lands on the same row even
	// when the agent reports a different user id
	again, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:   "other_secret_1234567890",
		UserId:  "something-else-entirely",
		Account: "A001",
	})
	require.NoError(t, err)
	require.Equal(t, row.ID, again.ID)
}

func TestUpsertValidation(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	var verr *ValidationError

	_, err := service.CreateOrUpdate(ctx, UpsertParams{Token: "", UserId: "userA"})
	require.ErrorAs(t, err, &verr)

	_, err = service.CreateOrUpdate(ctx, UpsertParams{Token: "short", UserId: "userA"})
	require.ErrorAs(t, err, &verr)

	_, err = service.CreateOrUpdate(ctx, UpsertParams{Token: "has spaces inside!", UserId: "userA"})
	require.ErrorAs(t, err, &verr)

	_, err = service.CreateOrUpdate(ctx, UpsertParams{Token: "valid_token_1234567890", UserId: "   "})
	require.ErrorAs(t, err, &verr)
}

func TestSecretNeverStoredInCleartext(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	row, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:  "super_sensitive_1234567890",
		UserId: "userA",
	})
	require.NoError(t, err)
	require.NotContains(t, row.TokenValue, "super_sensitive")

	plaintext, err := service.Decrypt(row.TokenValue)
	require.NoError(t, err)
	require.Equal(t, "super_sensitive_1234567890", plaintext)

	require.Equal(t, "super_se...34567890", service.MaskedToken(row))
}

func TestStatusTransitions(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	row, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:   "account_secret_1234567890",
		UserId:  "A001",
		Account: "A001",
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, row.Status)

	require.NoError(t, service.UpdateStatus(ctx, row.ID, StatusExpired))
	got, err := service.GetById(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)

	// expired tokens drop out of the active listing
	active, err := service.GetActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	// a fresh upload for the same account revives the same row
	revived, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:   "fresh_secret_0987654321",
		UserId:  "A001",
		Account: "A001",
	})
	require.NoError(t, err)
	require.Equal(t, row.ID, revived.ID)
	require.Equal(t, StatusActive, revived.Status)
}

func TestInvalidStatusExcludedFromActive(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	row, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:  "manually_flagged_1234567890",
		UserId: "userA",
	})
	require.NoError(t, err)

	// an operator can flag a token invalid directly in the table;
	// the keep-alive cycle must not probe it
	require.NoError(t, service.UpdateStatus(ctx, row.ID, StatusInvalid))

	active, err := service.GetActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := service.GetAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, StatusInvalid, all[0].Status)
}

func TestUpdateLastActive(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	row, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:  "active_secret_1234567890",
		UserId: "userA",
	})
	require.NoError(t, err)
	require.False(t, row.LastActiveAt.Valid)

	require.NoError(t, service.UpdateLastActive(ctx, row.ID))

	got, err := service.GetById(ctx, row.ID)
	require.NoError(t, err)
	require.True(t, got.LastActiveAt.Valid)

	require.ErrorIs(t, service.UpdateLastActive(ctx, 9999), ErrNotFound)
	require.ErrorIs(t, service.UpdateStatus(ctx, 9999, StatusExpired), ErrNotFound)
}

func TestDelete(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	row, err := service.CreateOrUpdate(ctx, UpsertParams{
		Token:       "doomed_secret_1234567890",
		UserId:      "userA",
		ExtensionId: "ext-1",
	})
	require.NoError(t, err)

	userId, extensionId, err := service.Delete(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, "userA", userId)
	require.Equal(t, "ext-1", extensionId)

	_, err = service.GetByUser(ctx, "userA")
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = service.Delete(ctx, row.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetByUserNotFound(t *testing.T) {
	service, cleanup := setup(t)
	defer cleanup()

	_, err := service.GetByUser(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = service.GetById(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}
