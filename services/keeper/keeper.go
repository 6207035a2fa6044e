// Package keeper runs the keep-alive scheduler: it periodically probes
// every active credential against the upstream platform and marks the
// ones the platform rejects as expired, pushing a notification to the
// owning agent.
package keeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tokenvault-backend/lib/protocol"
	"tokenvault-backend/lib/telemetry"
	"tokenvault-backend/lib/timezone"
	"tokenvault-backend/lib/tokencrypt"
	"tokenvault-backend/services/registry"
	"tokenvault-backend/services/tokens"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/keeper")

// probe outcomes. Only an authoritative platform answer may change a
// credential's state; everything else is inconclusive and retried on
// the next cycle.
type outcome int

const (
	outcomeValid outcome = iota
	outcomeInvalid
	outcomeInconclusive
)

// maxConcurrentProbes bounds the per-cycle fan-out.
const maxConcurrentProbes = 8

// Notifier is the slice of the connection registry the keeper needs to
// push expiry notifications.
type Notifier interface {
	GetByUser(userId string) (registry.Connection, bool)
	SendToExtension(ctx context.Context, extensionId string, env protocol.Envelope) bool
}

// CycleStats summarizes one keep-alive pass. Failed covers both
// inconclusive probes and per-credential processing errors.
type CycleStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Stats accumulates across cycles for the lifetime of the process.
type Stats struct {
	TotalChecks      int64     `json:"total_checks"`
	SuccessfulChecks int64     `json:"successful_checks"`
	FailedChecks     int64     `json:"failed_checks"`
	ExpiredTokens    int64     `json:"expired_tokens"`
	LastCycleAt      time.Time `json:"last_cycle_at"`
}

type Options struct {
	Interval   time.Duration
	AgentUrl   string
	NetworkUrl string
}

type Keeper struct {
	store    tokens.Service
	notifier Notifier
	client   *resty.Client

	agentUrl   string
	networkUrl string

	mu       sync.Mutex
	interval time.Duration
	stats    Stats

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store tokens.Service, notifier Notifier, opts Options) *Keeper {
	client := resty.New()
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "services/keeper")

	return &Keeper{
		store:      store,
		notifier:   notifier,
		client:     client,
		agentUrl:   opts.AgentUrl,
		networkUrl: opts.NetworkUrl,
		interval:   opts.Interval,
	}
}

func (k *Keeper) Interval() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.interval
}

// SetInterval changes the delay between cycles. Takes effect after the
// current wait elapses.
func (k *Keeper) SetInterval(interval time.Duration) {
	if interval < time.Minute {
		slog.Warn("keep-alive interval is very short", "interval", interval)
	}
	k.mu.Lock()
	k.interval = interval
	k.mu.Unlock()
	slog.Info("keep-alive interval updated", "interval", interval)
}

func (k *Keeper) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

func (k *Keeper) ResetStats() {
	k.mu.Lock()
	k.stats = Stats{}
	k.mu.Unlock()
}

// Start launches the keep-alive loop. Starting twice is a no-op.
func (k *Keeper) Start() {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.cancel != nil {
		slog.Warn("keeper already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})

	go func() {
		defer close(k.done)
		slog.Info("start daemon", "task", "keep alive", "interval", k.Interval())

		for {
			select {
			case <-time.After(k.Interval()):
			case <-ctx.Done():
				return
			}

			_, err := k.RunCycle(ctx)
			if err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "keep-alive cycle failed", "err", err)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
// Stopping an already-stopped keeper is a no-op.
func (k *Keeper) Stop() {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.cancel == nil {
		return
	}
	k.cancel()
	<-k.done
	k.cancel = nil
	k.done = nil
}

// RunCycle probes every active credential once. Cycles never overlap,
// within one cycle probes fan out up to maxConcurrentProbes wide.
func (k *Keeper) RunCycle(ctx context.Context) (CycleStats, error) {
	ctx, span := tracer.Start(ctx, "RunCycle")
	defer span.End()

	rows, err := k.store.GetActive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active tokens")
		return CycleStats{}, err
	}

	cycle := CycleStats{Total: len(rows)}
	if len(rows) == 0 {
		slog.InfoContext(ctx, "keep-alive cycle: nothing active")
		k.finishCycle(cycle)
		return cycle, nil
	}

	slog.InfoContext(ctx, "keep-alive cycle start", "active", len(rows))

	var wg sync.WaitGroup
	var statsMu sync.Mutex
	sem := make(chan struct{}, maxConcurrentProbes)

	for _, row := range rows {
		row := row
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := k.keepAlive(ctx, row.ID, row.UserID, row.AccountType, row.TokenValue)

			statsMu.Lock()
			switch result {
			case outcomeValid:
				cycle.Success++
			case outcomeInvalid:
				cycle.Expired++
			default:
				cycle.Failed++
			}
			statsMu.Unlock()
		}()
	}
	wg.Wait()

	k.finishCycle(cycle)
	slog.InfoContext(ctx, "keep-alive cycle done",
		"total", cycle.Total, "success", cycle.Success,
		"expired", cycle.Expired, "failed", cycle.Failed)
	return cycle, nil
}

func (k *Keeper) finishCycle(cycle CycleStats) {
	k.mu.Lock()
	k.stats.TotalChecks += int64(cycle.Total)
	k.stats.SuccessfulChecks += int64(cycle.Success)
	k.stats.FailedChecks += int64(cycle.Failed)
	k.stats.ExpiredTokens += int64(cycle.Expired)
	k.stats.LastCycleAt = timezone.Now()
	k.mu.Unlock()
}

// keepAlive probes a single credential and applies the state change
// its outcome warrants. Inconclusive outcomes touch nothing so a flaky
// upstream cannot expire a healthy session.
func (k *Keeper) keepAlive(ctx context.Context, id int64, userId, accountType, sealed string) outcome {
	ctx, span := tracer.Start(ctx, "keepAlive")
	defer span.End()

	secret, err := k.store.Decrypt(sealed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decrypt token")
		slog.ErrorContext(ctx, "keep-alive decrypt failed", "id", id, "user_id", userId, "err", err)
		return outcomeInconclusive
	}

	var result outcome
	if accountType == protocol.AccountTypeNetwork {
		result = k.probeNetwork(ctx, secret)
	} else {
		result = k.probeAgent(ctx, secret)
	}

	switch result {
	case outcomeValid:
		err := k.store.UpdateLastActive(ctx, id)
		if err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "keep-alive bookkeeping failed",
				"id", id, "user_id", userId, "err", err)
			return outcomeInconclusive
		}
		slog.InfoContext(ctx, "keep-alive ok",
			"id", id, "type", accountType, "token", tokencrypt.Mask(secret))

	case outcomeInvalid:
		err := k.store.UpdateStatus(ctx, id, tokens.StatusExpired)
		if err != nil {
			span.RecordError(err)
			slog.ErrorContext(ctx, "failed to mark token expired",
				"id", id, "user_id", userId, "err", err)
			return outcomeInconclusive
		}
		slog.WarnContext(ctx, "token expired",
			"id", id, "user_id", userId, "type", accountType)
		k.NotifyTokenExpired(ctx, userId, "keep-alive check failed, token has expired")

	default:
		slog.WarnContext(ctx, "keep-alive inconclusive, leaving token untouched",
			"id", id, "user_id", userId, "token", tokencrypt.Mask(secret))
	}
	return result
}

// probeAgent validates an agent-side session by fetching the data
// platform landing page with the credential as a bearer token.
func (k *Keeper) probeAgent(ctx context.Context, secret string) outcome {
	res, err := k.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+secret).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8").
		SetHeader("Referer", "https://jms.jtexpress.com.cn/").
		Get(k.agentUrl)
	if err != nil {
		slog.WarnContext(ctx, "agent probe transport error",
			"token", tokencrypt.Mask(secret), "err", err)
		return outcomeInconclusive
	}

	status := res.StatusCode()
	switch {
	case status == 401 || status == 403:
		return outcomeInvalid
	case status < 400:
		return outcomeValid
	default:
		slog.WarnContext(ctx, "agent probe unexpected status",
			"token", tokencrypt.Mask(secret), "status", status)
		return outcomeInconclusive
	}
}

type networkProbeResponse struct {
	Code int    `json:"code"`
	Succ bool   `json:"succ"`
	Msg  string `json:"msg"`
}

// probeNetwork validates a network-side session through the indicator
// query endpoint, the lightest authenticated call the platform has.
func (k *Keeper) probeNetwork(ctx context.Context, secret string) outcome {
	firstOfMonth, today := timezone.MonthToDate(timezone.Now())

	res, err := k.client.R().
		SetContext(ctx).
		SetHeader("authToken", secret).
		SetHeader("Content-Type", "application/json;charset=UTF-8").
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8").
		SetHeader("Origin", "https://wd.jtexpress.com.cn").
		SetHeader("Referer", "https://wd.jtexpress.com.cn/").
		SetHeader("lang", "zh_CN").
		SetHeader("routeName", "indexSub").
		SetBody(map[string]any{
			"dateDimension": "M",
			"dateType":      3,
			"organization":  "network",
			"checkType":     "head",
			"countryId":     "1",
			"startDate":     firstOfMonth,
			"endDate":       today,
		}).
		Post(k.networkUrl)
	if err != nil {
		slog.WarnContext(ctx, "network probe transport error",
			"token", tokencrypt.Mask(secret), "err", err)
		return outcomeInconclusive
	}

	status := res.StatusCode()
	if status == 401 || status == 403 {
		return outcomeInvalid
	}

	if status == 200 {
		var parsed networkProbeResponse
		err := json.Unmarshal(res.Body(), &parsed)
		if err == nil {
			if parsed.Code == 1 || parsed.Succ {
				return outcomeValid
			}
			slog.WarnContext(ctx, "network probe rejected by business code",
				"code", parsed.Code, "msg", parsed.Msg)
			return outcomeInvalid
		}
	}
	if status >= 200 && status < 300 {
		// unparsable 2xx bodies count as alive
		return outcomeValid
	}

	slog.WarnContext(ctx, "network probe unexpected status",
		"token", tokencrypt.Mask(secret), "status", status)
	return outcomeInconclusive
}

// NotifyTokenExpired pushes a token_expired envelope to the agent
// bound to userId. False when no such agent is connected or the send
// fails.
func (k *Keeper) NotifyTokenExpired(ctx context.Context, userId string, reason string) bool {
	conn, ok := k.notifier.GetByUser(userId)
	if !ok {
		slog.WarnContext(ctx, "no connected agent for expired token", "user_id", userId)
		return false
	}
	return k.notifier.SendToExtension(ctx, conn.ExtensionId, protocol.NewTokenExpired(userId, reason))
}

// NotifyAllExpired re-sends token_expired for every expired row; the
// server calls this after boot so agents that reconnect learn about
// expiries they missed.
func (k *Keeper) NotifyAllExpired(ctx context.Context) int {
	ctx, span := tracer.Start(ctx, "NotifyAllExpired")
	defer span.End()

	rows, err := k.store.GetAll(ctx, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list tokens")
		slog.ErrorContext(ctx, "failed to list tokens for expiry notification", "err", err)
		return 0
	}

	notified := 0
	for _, row := range rows {
		if row.Status != tokens.StatusExpired {
			continue
		}
		if k.NotifyTokenExpired(ctx, row.UserID, "token has expired") {
			notified++
		}
	}
	slog.InfoContext(ctx, "expired token notifications sent", "count", notified)
	return notified
}
