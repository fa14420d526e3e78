package boot

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"nftdiarias/src/common"
	"nftdiarias/src/config"
	"nftdiarias/src/controllers"
	"nftdiarias/src/db"
	"nftdiarias/src/lib"
	awslib "nftdiarias/src/lib/aws"
	"nftdiarias/src/lib/chain"
	"nftdiarias/src/lib/metrics"
	"nftdiarias/src/lifecycle"

	"gorm.io/gorm"
)

// Services is everything the HTTP layer needs.
type Services struct {
	Config     *config.Config
	Manager    *lifecycle.Manager
	Reconciler *common.Reconciler
	Auth       *controllers.AuthController
	Pinner     lib.MetadataPinner

	closers []func()
}

// Close releases background resources in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func InitDb() *gorm.DB {
	gdb := db.GetDb()
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}
	return gdb
}

func InitVault(ctx context.Context, cfg *config.Config) (chain.Vault, error) {
	switch cfg.SignerVault {
	case "static":
		v, err := chain.NewStaticVault(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		log.Printf("Signer vault: static (%s)\n", chain.Lower(v.Address()))
		return v, nil
	case "secretsmanager":
		log.Printf("Signer vault: secretsmanager (%s)\n", cfg.SecretsPrefix)
		return awslib.NewSecretsManagerVault(ctx, cfg.AWSRegion, cfg.SecretsPrefix, cfg.SignerCacheTTL)
	default:
		log.Printf("Signer vault: keystore (%s)\n", cfg.KeystoreDir)
		return chain.NewKeystoreVault(cfg.KeystoreDir, cfg.KeystorePassphrase), nil
	}
}

func InitNonceLocker(cfg *config.Config) chain.NonceLocker {
	if cfg.NonceLock == "redis" {
		if rdb := lib.GetRedisClient(cfg.RedisHost); rdb != nil {
			return lib.NewRedisNonceLocker(rdb)
		}
		log.Println("Falling back to in-process nonce lock")
	}
	return chain.NewLocalNonceLocker()
}

func InitOracle(ctx context.Context, cfg *config.Config) (*chain.EVMOracle, error) {
	opts := chain.EVMOptions{
		WaitTimeout:   cfg.TxWaitTimeout,
		PollInterval:  cfg.TxPollInterval,
		Confirmations: cfg.TxConfirmations,
		Nonces:        InitNonceLocker(cfg),
		Observe:       metrics.Reservations().ObserveChainCall,
	}
	if cfg.ChainID > 0 {
		opts.ChainID = big.NewInt(cfg.ChainID)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	oracle, err := chain.DialEVMOracle(dialCtx, cfg.RPCURL, cfg.ContractAddress, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to chain %s, contract %s\n", oracle.ChainID(), chain.Lower(oracle.Contract()))
	return oracle, nil
}

// InitPublisher picks the event backend the way the environment dictates:
// Kafka locally, SNS in test and production, otherwise nothing.
func InitPublisher(ctx context.Context, cfg *config.Config) (lib.Publisher, func()) {
	if cfg.IsLocal() && cfg.KafkaBroker != "" {
		if _, err := lib.KafkaCreateTopics(ctx, cfg.KafkaBroker, cfg.LifecycleTopic); err != nil {
			log.Printf("Error creating topic %s: %s\n", cfg.LifecycleTopic, err.Error())
		}
		p, err := lib.NewKafkaPublisher(cfg.KafkaBroker, "nftdiarias-api")
		if err == nil {
			return p, p.Close
		}
	}
	if !cfg.IsLocal() && cfg.AWSAccountID != "" {
		p, err := awslib.NewSNSPublisher(ctx, cfg.AWSRegion, cfg.AWSAccountID)
		if err == nil {
			return p, func() {}
		}
		log.Printf("Error initializing SNS publisher: %s\n", err.Error())
	}
	log.Println("Lifecycle events will not be published")
	return lib.NoopPublisher{}, func() {}
}

func InitPinner(ctx context.Context, cfg *config.Config) lib.MetadataPinner {
	if cfg.MetadataBucket == "" {
		return nil
	}
	p, err := awslib.NewS3MetadataPinner(ctx, cfg.AWSRegion, cfg.MetadataBucket, cfg.MetadataBaseURL)
	if err != nil {
		log.Printf("Error initializing metadata pinning: %s\n", err.Error())
		return nil
	}
	return p
}

func InitChallengeStore(cfg *config.Config) controllers.ChallengeStore {
	if cfg.RedisHost != "" {
		if rdb := lib.GetRedisClient(cfg.RedisHost); rdb != nil {
			return lib.NewRedisChallengeStore(rdb)
		}
	}
	log.Println("Login challenges are kept in memory")
	return lib.NewMemoryChallengeStore()
}

func InitScheduler(ctx context.Context, cfg *config.Config, r *common.Reconciler) {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return
	}
	_, err = lib.ScheduleEvery(ctx, sched, "reconcile-reservations", cfg.ReconcileEvery, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil {
			log.Printf("Error running reconciliation: %s\n", err.Error())
		}
	})
	if err != nil {
		return
	}
	sched.Start()
}

func StopScheduler() {
	sched, err := lib.GetScheduler()
	if err != nil {
		log.Println("Error retrieving Scheduler. Check logs for info")
		return
	}
	if err := sched.Shutdown(); err != nil {
		log.Println("An error has occurred while shutting stopping Scheduler. Check logs for info")
	}
}

// InitConsumers starts the on-demand reconcile queue outside local runs.
func InitConsumers(ctx context.Context, cfg *config.Config, r *common.Reconciler) {
	if cfg.IsLocal() || cfg.AWSRegion == "" || cfg.ReconcileQueue == "" {
		return
	}
	c, err := awslib.NewSQSConsumer(ctx, cfg.AWSRegion, cfg.ReconcileQueue, r.QueueHandler())
	if err != nil {
		log.Printf("Error initializing consumer %s: %s\n", cfg.ReconcileQueue, err.Error())
		return
	}
	go func() {
		if err := c.Listen(ctx); err != nil {
			log.Printf("Consumer %s stopped: %s\n", cfg.ReconcileQueue, err.Error())
		}
	}()
}

// Init wires the service. Background work stops when ctx is done.
func Init(ctx context.Context, cfg *config.Config) (*Services, error) {
	gdb := InitDb()
	vault, err := InitVault(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("signer vault: %w", err)
	}
	oracle, err := InitOracle(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	publisher, closePublisher := InitPublisher(ctx, cfg)
	s := &Services{Config: cfg, closers: []func(){db.Close, closePublisher}}

	store := db.NewReservationStore(gdb)
	trail := db.NewTrailStore(gdb)
	jobs := db.NewJobStore(gdb)
	s.Manager, err = lifecycle.NewManager(lifecycle.Config{
		Oracle: oracle,
		Store:  store,
		Vault:  vault,
		Trail:  trail,
		Jobs:   jobs,
		Events: publisher,
		Topic:  cfg.LifecycleTopic,
	})
	if err != nil {
		return nil, err
	}
	s.Reconciler, err = common.NewReconciler(common.ReconcilerConfig{
		Oracle:     oracle,
		Store:      store,
		Jobs:       jobs,
		Trail:      trail,
		Events:     publisher,
		Topic:      cfg.LifecycleTopic,
		StaleAfter: cfg.ReconcileStale,
		Batch:      cfg.ReconcileBatch,
	})
	if err != nil {
		return nil, err
	}
	s.Auth = controllers.NewAuthController(InitChallengeStore(cfg), []byte(cfg.JWTSecret), cfg.AuthChallengeTTL)
	s.Pinner = InitPinner(ctx, cfg)

	InitScheduler(ctx, cfg, s.Reconciler)
	s.closers = append(s.closers, StopScheduler)
	InitConsumers(ctx, cfg, s.Reconciler)
	return s, nil
}
