package cmd

import (
	"fmt"
	"os"
	"time"

	"tokenvault-backend/lib/configutil"
	configsqlite "tokenvault-backend/lib/configutil/sqlite"
	"tokenvault-backend/lib/tokencrypt"
	"tokenvault-backend/services/tokens"
	tokensdb "tokenvault-backend/services/tokens/db"

	"github.com/spf13/cobra"
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
	Database   configsqlite.Struct `json:"database"`
	Encryption EncryptionConfig    `json:"encryption"`
	KeepAlive  KeepAliveConfig     `json:"keep_alive"`
}

var rootCmd = &cobra.Command{
	Use:   "tokenvault-cli",
	Short: "tokenvault-cli inspects and maintains the token vault from the command line.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore opens the same database and encryption key the daemon
// uses, based on the config.json5 in the working directory.
func openStore() (tokens.Service, Config, error) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return tokens.Service{}, Config{}, fmt.Errorf("read config: %w", err)
	}

	db, err := cfg.Database.OpenDB(tokensdb.Schema)
	if err != nil {
		return tokens.Service{}, Config{}, fmt.Errorf("open database: %w", err)
	}

	key := cfg.Encryption.Key
	if key == "" {
		key, err = tokencrypt.LoadOrCreateKey(cfg.Encryption.KeyFile)
		if err != nil {
			return tokens.Service{}, Config{}, fmt.Errorf("load encryption key: %w", err)
		}
	}
	crypto, err := tokencrypt.NewFromBase64(key)
	if err != nil {
		return tokens.Service{}, Config{}, fmt.Errorf("init encryption: %w", err)
	}

	return tokens.NewService(db, crypto), cfg, nil
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).Format(time.ANSIC)
}
