package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// const dsn = "host=localhost user=postgres password=password dbname=nftdiarias port=5432 sslmode=disable TimeZone=America/Sao_Paulo"

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

var (
	contractAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	privateKeyPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// ErrUnconfigured marks a configuration problem detected at startup.
var ErrUnconfigured = errors.New("unconfigured")

type Config struct {
	APIEnv          string
	Port            string
	AppHost         string
	MaintenanceMode bool

	RPCURL          string
	ContractAddress string
	ChainID         int64
	TxWaitTimeout   time.Duration
	TxPollInterval  time.Duration
	TxConfirmations uint64

	SignerVault        string
	PrivateKey         string
	KeystoreDir        string
	KeystorePassphrase string
	SecretsPrefix      string
	SignerCacheTTL     time.Duration
	NonceLock          string

	RedisHost   string
	KafkaBroker string

	AWSRegion        string
	AWSAccountID     string
	MetadataBucket   string
	MetadataBaseURL  string
	ReconcileQueue   string
	LifecycleTopic   string
	ReconcileEvery   time.Duration
	ReconcileStale   time.Duration
	ReconcileBatch   int
	JWTSecret        string
	AuthMode         string
	AuthChallengeTTL time.Duration
}

// Load reads the process environment. It never fails; Validate reports what is missing.
func Load() *Config {
	pk := strings.TrimSpace(os.Getenv("PRIVATE_KEY"))
	if pk == "" {
		pk = strings.TrimSpace(os.Getenv("ADMIN_PRIVATE_KEY"))
	}
	c := &Config{
		APIEnv:          getenv("API_ENV", "local"),
		Port:            getenv("PORT", "9090"),
		AppHost:         os.Getenv("APP_HOST"),
		MaintenanceMode: getbool("MAINTENANCE_MODE", false),

		RPCURL:          getenv("RPC_URL", "http://127.0.0.1:8545"),
		ContractAddress: strings.TrimSpace(os.Getenv("CONTRACT_ADDRESS")),
		ChainID:         int64(getint("CHAIN_ID", 0)),
		TxWaitTimeout:   getduration("TX_WAIT_TIMEOUT", 2*time.Minute),
		TxPollInterval:  getduration("TX_POLL_INTERVAL", 2*time.Second),
		TxConfirmations: uint64(getint("TX_CONFIRMATIONS", 1)),

		SignerVault:        getenv("SIGNER_VAULT", "keystore"),
		PrivateKey:         pk,
		KeystoreDir:        getenv("KEYSTORE_DIR", "keystore"),
		KeystorePassphrase: os.Getenv("KEYSTORE_PASSPHRASE"),
		SecretsPrefix:      getenv("SECRETS_PREFIX", "nftdiarias/custody"),
		SignerCacheTTL:     getduration("SIGNER_CACHE_TTL", 10*time.Minute),
		NonceLock:          getenv("NONCE_LOCK", "memory"),

		RedisHost:   os.Getenv("REDIS_HOST"),
		KafkaBroker: os.Getenv("KAFKA_BROKER"),

		AWSRegion:        os.Getenv("AWS_REGION"),
		AWSAccountID:     os.Getenv("AWS_ACCOUNT_ID"),
		MetadataBucket:   os.Getenv("S3_METADATA_BUCKET"),
		MetadataBaseURL:  os.Getenv("METADATA_BASE_URL"),
		ReconcileQueue:   getenv("RECONCILE_QUEUE", "ReconcileReservations"),
		LifecycleTopic:   getenv("LIFECYCLE_TOPIC", "reservations.lifecycle"),
		ReconcileEvery:   getduration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileStale:   getduration("RECONCILE_STALE_AFTER", 10*time.Minute),
		ReconcileBatch:   getint("RECONCILE_BATCH", 100),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AuthMode:         getenv("AUTH_MODE", "signature"),
		AuthChallengeTTL: getduration("AUTH_CHALLENGE_TTL", 5*time.Minute),
	}
	return c
}

// Validate fails fast on configuration the service cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RPCURL) == "" {
		errs = append(errs, fmt.Errorf("%w: RPC_URL is required", ErrUnconfigured))
	}
	if !contractAddressPattern.MatchString(c.ContractAddress) {
		errs = append(errs, fmt.Errorf("%w: CONTRACT_ADDRESS missing or invalid: %q", ErrUnconfigured, c.ContractAddress))
	}
	switch c.SignerVault {
	case "static":
		if !privateKeyPattern.MatchString(c.PrivateKey) {
			errs = append(errs, fmt.Errorf("%w: PRIVATE_KEY (or ADMIN_PRIVATE_KEY) must be 0x + 64 hex", ErrUnconfigured))
		}
	case "keystore":
		if c.KeystoreDir == "" {
			errs = append(errs, fmt.Errorf("%w: KEYSTORE_DIR is required", ErrUnconfigured))
		}
	case "secretsmanager":
		if c.SecretsPrefix == "" {
			errs = append(errs, fmt.Errorf("%w: SECRETS_PREFIX is required", ErrUnconfigured))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown SIGNER_VAULT %q", ErrUnconfigured, c.SignerVault))
	}
	if c.NonceLock == "redis" && c.RedisHost == "" {
		errs = append(errs, fmt.Errorf("%w: NONCE_LOCK=redis requires REDIS_HOST", ErrUnconfigured))
	}
	if c.AuthMode != "header" && c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("%w: JWT_SECRET is required", ErrUnconfigured))
	}
	if c.AuthMode == "header" && c.IsProd() {
		errs = append(errs, fmt.Errorf("%w: AUTH_MODE=header is not allowed in production", ErrUnconfigured))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProd() bool {
	return c.APIEnv == "production"
}

func (c *Config) IsLocal() bool {
	return c.APIEnv == "local"
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	atoi, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return atoi
}

func getbool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
