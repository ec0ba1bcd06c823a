package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	// Debounce timer for config file changes
	debounceTimer *time.Timer
	debounceMutex sync.Mutex
)

// InitConfig initializes the global viper configuration
func InitConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create it with defaults
			fmt.Println("No config.yaml found, creating default configuration...")
			if err := viper.WriteConfigAs("config.yaml"); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read created config: %w", err)
			}
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	watchConfig()

	return nil
}

func setDefaults() {
	viper.SetDefault("relay.host", "0.0.0.0")
	viper.SetDefault("relay.port", 9001)
	viper.SetDefault("relay.url", "wss://localhost:9001")
	viper.SetDefault("relay.private_key", "")
	viper.SetDefault("relay.heartbeat_interval", 30)
	viper.SetDefault("relay.query_limit", 500)

	viper.SetDefault("database.path", "./data/events.db")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.dir", "./logs")

	// Pubkey sets seeded at startup; the application keeps them current
	// through the access policy's add/remove calls afterwards
	viper.SetDefault("access.allowed_pubkeys", []string{})
	viper.SetDefault("access.mirror_bots", []string{})
	viper.SetDefault("access.outbox_bots", []string{})
}

// watchConfig reloads viper state on config file changes, debounced so
// editors that write multiple times per save only trigger one reload.
func watchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		debounceMutex.Lock()
		defer debounceMutex.Unlock()

		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
			fmt.Printf("Config file changed: %s\n", e.Name)
		})
	})
	viper.WatchConfig()
}
