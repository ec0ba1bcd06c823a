package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/nostrmail/relay/lib/access"
	"github.com/nostrmail/relay/lib/bridge"
	"github.com/nostrmail/relay/lib/config"
	"github.com/nostrmail/relay/lib/logging"
	"github.com/nostrmail/relay/lib/signing"
	stores_gorm "github.com/nostrmail/relay/lib/stores/gorm"
	"github.com/nostrmail/relay/lib/transports/websocket"
)

func main() {
	if err := config.InitConfig(); err != nil {
		logging.Fatalf("Failed to initialize config: %v", err)
	}
	if err := logging.InitLogger(); err != nil {
		logging.Fatalf("Failed to initialize logger: %v", err)
	}

	// Relay identity key, generated on first run
	key := viper.GetString("relay.private_key")
	if key == "" {
		privateKey, err := signing.GeneratePrivateKey()
		if err != nil {
			logging.Fatalf("No private key configured and unable to generate one: %v", err)
		}
		serialized, err := signing.SerializePrivateKey(privateKey)
		if err != nil {
			logging.Fatalf("Failed to serialize generated key: %v", err)
		}
		viper.Set("relay.private_key", serialized)
		if err := viper.WriteConfig(); err != nil {
			logging.Warnf("Failed to persist generated key: %v", err)
		}
		key = serialized
	}
	_, publicKey, err := signing.DeserializePrivateKey(key)
	if err != nil {
		logging.Fatalf("Failed to parse relay private key: %v", err)
	}
	logging.Infof("Relay identity: %s", signing.SerializePublicKeyHex(publicKey))

	store, err := stores_gorm.InitStore(viper.GetString("database.path"), viper.GetInt("relay.query_limit"))
	if err != nil {
		logging.Fatalf("Failed to open event store: %v", err)
	}

	// Seed the access policy; the surrounding application keeps it
	// current through add/remove calls after startup
	policy := access.NewPolicy()
	for _, pubkey := range viper.GetStringSlice("access.allowed_pubkeys") {
		policy.AllowPubkey(pubkey)
	}
	for _, pubkey := range viper.GetStringSlice("access.mirror_bots") {
		policy.AddMirrorBot(pubkey)
		policy.AllowPubkey(pubkey)
	}
	for _, pubkey := range viper.GetStringSlice("access.outbox_bots") {
		policy.AddOutboxBot(pubkey)
		policy.AllowPubkey(pubkey)
	}

	// Standalone the relay has no mail bridge; the embedding application
	// passes its own Deliverer here
	dispatcher := bridge.NewDispatcher(nil)

	server := websocket.NewServer(store, policy, dispatcher)
	server.Start()

	app := server.BuildApp()

	go func() {
		if err := server.Listen(app); err != nil {
			logging.Fatalf("Relay server exited: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logging.Info("Shutting down")
	server.Stop()
	if err := app.Shutdown(); err != nil {
		logging.Errorf("Error during shutdown: %v", err)
	}
}
