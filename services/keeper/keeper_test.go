package keeper

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"tokenvault-backend/lib/protocol"
	"tokenvault-backend/lib/telemetry"
	"tokenvault-backend/lib/tokencrypt"
	"tokenvault-backend/services/registry"
	"tokenvault-backend/services/tokens"
	tokensdb "tokenvault-backend/services/tokens/db"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu       sync.Mutex
	bindings map[string]string // userId -> extensionId
	sent     []protocol.Envelope
}

func (f *fakeNotifier) GetByUser(userId string) (registry.Connection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	extensionId, ok := f.bindings[userId]
	if !ok {
		return registry.Connection{}, false
	}
	return registry.Connection{ExtensionId: extensionId, UserId: userId}, true
}

func (f *fakeNotifier) SendToExtension(ctx context.Context, extensionId string, env protocol.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeNotifier) sentEnvelopes() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope{}, f.sent...)
}

func setup(t testing.TB) (tokens.Service, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:services/keeper")

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

	return tokens.NewService(sqlite, crypto), cleanup
}

func upsert(t testing.TB, store tokens.Service, p tokens.UpsertParams) tokensdb.Token {
	row, err := store.CreateOrUpdate(context.Background(), p)
	require.NoError(t, err)
	return row
}

func TestCycleKeepsValidTokenAlive(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Contains(t, r.Header.Get("Authorization"), "Bearer ")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	row := upsert(t, store, tokens.UpsertParams{Token: "agent_secret_1234567890", UserId: "userA"})
	require.False(t, row.LastActiveAt.Valid)

	notifier := &fakeNotifier{}
	k := New(store, notifier, Options{Interval: time.Minute, AgentUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Success: 1}, cycle)

	after, err := store.GetById(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, tokens.StatusActive, after.Status)
	require.True(t, after.LastActiveAt.Valid)
	require.Empty(t, notifier.sentEnvelopes())

	stats := k.Stats()
	require.EqualValues(t, 1, stats.TotalChecks)
	require.EqualValues(t, 1, stats.SuccessfulChecks)
	require.False(t, stats.LastCycleAt.IsZero())
}

func TestCycleExpiresRejectedTokenAndNotifies(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	row := upsert(t, store, tokens.UpsertParams{Token: "agent_secret_1234567890", UserId: "userA"})

	notifier := &fakeNotifier{bindings: map[string]string{"userA": "ext-1"}}
	k := New(store, notifier, Options{Interval: time.Minute, AgentUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Expired: 1}, cycle)

	after, err := store.GetById(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, tokens.StatusExpired, after.Status)

	sent := notifier.sentEnvelopes()
	require.Len(t, sent, 1)
	require.Equal(t, protocol.TypeTokenExpired, sent[0].Type)
	require.Equal(t, "userA", sent[0].Payload["userId"])
}

func TestInconclusiveServerErrorTouchesNothing(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	row := upsert(t, store, tokens.UpsertParams{Token: "agent_secret_1234567890", UserId: "userA"})

	notifier := &fakeNotifier{bindings: map[string]string{"userA": "ext-1"}}
	k := New(store, notifier, Options{Interval: time.Minute, AgentUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Failed: 1}, cycle)

	after, err := store.GetById(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, tokens.StatusActive, after.Status)
	require.False(t, after.LastActiveAt.Valid)
	require.Empty(t, notifier.sentEnvelopes())
}

func TestInconclusiveTransportErrorTouchesNothing(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	// a server that is already closed produces a connection error
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	row := upsert(t, store, tokens.UpsertParams{Token: "agent_secret_1234567890", UserId: "userA"})

	k := New(store, &fakeNotifier{}, Options{Interval: time.Minute, AgentUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Failed: 1}, cycle)

	after, err := store.GetById(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, tokens.StatusActive, after.Status)
}

func TestNetworkProbeBusinessCode(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	var gotAuth string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("authToken")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":1,"succ":true}`))
	}))
	defer upstream.Close()

	upsert(t, store, tokens.UpsertParams{
		Token:       "network_secret_1234567890",
		UserId:      "userN",
		AccountType: protocol.AccountTypeNetwork,
	})

	k := New(store, &fakeNotifier{}, Options{Interval: time.Minute, NetworkUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Success: 1}, cycle)

	require.Equal(t, "network_secret_1234567890", gotAuth)
	require.Equal(t, "M", gotBody["dateDimension"])
	require.Regexp(t, `^\d{4}-\d{2}-01$`, gotBody["startDate"])
	require.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, gotBody["endDate"])
}

func TestNetworkProbeBusinessFailureExpires(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"succ":false,"msg":"session invalid"}`))
	}))
	defer upstream.Close()

	row := upsert(t, store, tokens.UpsertParams{
		Token:       "network_secret_1234567890",
		UserId:      "userN",
		AccountType: protocol.AccountTypeNetwork,
	})

	notifier := &fakeNotifier{bindings: map[string]string{"userN": "ext-n"}}
	k := New(store, notifier, Options{Interval: time.Minute, NetworkUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Expired: 1}, cycle)

	after, err := store.GetById(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, tokens.StatusExpired, after.Status)
	require.Len(t, notifier.sentEnvelopes(), 1)
}

func TestNetworkProbeUnparsableBodyIsValid(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>hello</html>"))
	}))
	defer upstream.Close()

	upsert(t, store, tokens.UpsertParams{
		Token:       "network_secret_1234567890",
		UserId:      "userN",
		AccountType: protocol.AccountTypeNetwork,
	})

	k := New(store, &fakeNotifier{}, Options{Interval: time.Minute, NetworkUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{Total: 1, Success: 1}, cycle)
}

func TestCycleSkipsExpiredTokens(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	hits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	row := upsert(t, store, tokens.UpsertParams{Token: "agent_secret_1234567890", UserId: "userA"})
	require.NoError(t, store.UpdateStatus(context.Background(), row.ID, tokens.StatusExpired))

	k := New(store, &fakeNotifier{}, Options{Interval: time.Minute, AgentUrl: upstream.URL})

	cycle, err := k.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleStats{}, cycle)
	require.Zero(t, hits)
}

func TestNotifyAllExpired(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	expired := upsert(t, store, tokens.UpsertParams{Token: "expired_secret_123456", UserId: "userE"})
	require.NoError(t, store.UpdateStatus(context.Background(), expired.ID, tokens.StatusExpired))
	upsert(t, store, tokens.UpsertParams{Token: "active_secret_1234567", UserId: "userA"})
	offline := upsert(t, store, tokens.UpsertParams{Token: "offline_secret_123456", UserId: "userO"})
	require.NoError(t, store.UpdateStatus(context.Background(), offline.ID, tokens.StatusExpired))

	notifier := &fakeNotifier{bindings: map[string]string{"userE": "ext-e"}}
	k := New(store, notifier, Options{Interval: time.Minute})

	// only userE has a live connection; userO's notification is lost,
	// userA's token is active and not notified at all
	count := k.NotifyAllExpired(context.Background())
	require.Equal(t, 1, count)

	sent := notifier.sentEnvelopes()
	require.Len(t, sent, 1)
	require.Equal(t, protocol.TypeTokenExpired, sent[0].Type)
	require.Equal(t, "userE", sent[0].Payload["userId"])
}

func TestStartStopIdempotent(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	k := New(store, &fakeNotifier{}, Options{Interval: time.Hour})
	k.Start()
	k.Start()
	k.Stop()
	k.Stop()
}
