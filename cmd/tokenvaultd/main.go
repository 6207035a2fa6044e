package main

import (
	"flag"
	"time"

	"tokenvault-backend/lib/configutil"
	configsqlite "tokenvault-backend/lib/configutil/sqlite"
	"tokenvault-backend/lib/serviceutil"
	"tokenvault-backend/lib/tokencrypt"
	"tokenvault-backend/services/gateway"
	"tokenvault-backend/services/keeper"
	"tokenvault-backend/services/registry"
	"tokenvault-backend/services/tokens"
	tokensdb "tokenvault-backend/services/tokens/db"
)

type EncryptionConfig struct {
	Key     string `json:"key"`
	KeyFile string `json:"key_file"`
}

type KeepAliveConfig struct {
	IntervalSeconds int    `json:"interval_seconds"`
	AgentUrl        string `json:"agent_url"`
	NetworkUrl      string `json:"network_url"`
}

type Config struct {
	Port                     int                 `json:"port"`
	ManagementPassword       string              `json:"management_password"`
	Database                 configsqlite.Struct `json:"database"`
	Encryption               EncryptionConfig    `json:"encryption"`
	HeartbeatIntervalSeconds int                 `json:"heartbeat_interval_seconds"`
	KeepAlive                KeepAliveConfig     `json:"keep_alive"`
}

func openCrypto(cfg EncryptionConfig) (*tokencrypt.Crypto, error) {
	key := cfg.Key
	if key == "" {
		var err error
		key, err = tokencrypt.LoadOrCreateKey(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
	}
	return tokencrypt.NewFromBase64(key)
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8181
	}
	if cfg.HeartbeatIntervalSeconds == 0 {
		cfg.HeartbeatIntervalSeconds = 30
	}
	if cfg.KeepAlive.IntervalSeconds == 0 {
		cfg.KeepAlive.IntervalSeconds = 300
	}

	db, err := cfg.Database.OpenDB(tokensdb.Schema)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}

	crypto, err := openCrypto(cfg.Encryption)
	if err != nil {
		serviceutil.Fatal("init encryption", err)
	}

	store := tokens.NewService(db, crypto)

	reg := registry.New(time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second)
	reg.StartSweeper()

	keep := keeper.New(store, reg, keeper.Options{
		Interval:   time.Duration(cfg.KeepAlive.IntervalSeconds) * time.Second,
		AgentUrl:   cfg.KeepAlive.AgentUrl,
		NetworkUrl: cfg.KeepAlive.NetworkUrl,
	})
	keep.Start()

	// give reconnecting agents a moment to re-register, then replay
	// expiry notifications they missed while the server was down
	go func() {
		select {
		case <-time.After(time.Minute):
			keep.NotifyAllExpired(ctx)
		case <-ctx.Done():
		}
	}()

	svc := gateway.NewService(store, reg, keep, cfg.ManagementPassword)
	go serviceutil.StartHttpServer(cfg.Port, svc.Router())

	<-ctx.Done()

	keep.Stop()
	reg.CloseAll()
}
