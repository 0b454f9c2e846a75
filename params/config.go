package params

import (
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type API struct {
	Addr string
}

type Storage struct {
	// DBPath is the Pebble directory for ledger state. Empty disables
	// persistence (in-memory ledger only).
	DBPath string
	// JournalPath is the JSON-lines event journal. Empty disables it.
	JournalPath string
}

type Relay struct {
	Enabled    bool
	ListenAddr string
	Bootstrap  []string
	Topic      string
}

type Config struct {
	// Venue is the settlement venue address mixed into every order and
	// transaction hash. Two venues never accept each other's signatures.
	Venue common.Address
	// FeeAsset is the asset all maker/taker fees are denominated in.
	FeeAsset common.Address

	API     API
	Storage Storage
	Relay   Relay
}

func Default() Config {
	return Config{
		Venue:    common.HexToAddress("0x48a1Cf0d8f11F0bD3dA5f7E1e07c9B1a4bE5C901"),
		FeeAsset: common.HexToAddress("0xE41d2489571d322189246DaFA5ebDe1F4699F498"),
		API:      API{Addr: ":8080"},
		Storage: Storage{
			DBPath:      "data/ledger",
			JournalPath: "data/events.jsonl",
		},
		Relay: Relay{
			Enabled:    false,
			ListenAddr: "/ip4/0.0.0.0/tcp/9001",
			Topic:      "halcyon-settle-v1",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("VENUE_ADDRESS"); common.IsHexAddress(v) {
		cfg.Venue = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_ASSET_ADDRESS"); common.IsHexAddress(v) {
		cfg.FeeAsset = common.HexToAddress(v)
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.Storage.DBPath = v
	}
	if v, ok := os.LookupEnv("EVENT_JOURNAL"); ok {
		cfg.Storage.JournalPath = v
	}
	if v := os.Getenv("RELAY_ENABLED"); v != "" {
		cfg.Relay.Enabled = v == "true"
	}
	if v := os.Getenv("RELAY_LISTEN"); v != "" {
		cfg.Relay.ListenAddr = v
	}
	if v := os.Getenv("RELAY_BOOTSTRAP"); v != "" {
		// Comma-separated multiaddrs, e.g. "/ip4/1.2.3.4/tcp/9001/p2p/Qm...,..."
		cfg.Relay.Bootstrap = strings.Split(v, ",")
	}
	if v := os.Getenv("RELAY_TOPIC"); v != "" {
		cfg.Relay.Topic = v
	}

	return cfg
}
