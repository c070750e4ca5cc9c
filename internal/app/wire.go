package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	s3blob "github.com/alanyoungcy/assertmarket/internal/blob/s3"
	"github.com/alanyoungcy/assertmarket/internal/cache/redis"
	"github.com/alanyoungcy/assertmarket/internal/config"
	"github.com/alanyoungcy/assertmarket/internal/crypto"
	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/market"
	"github.com/alanyoungcy/assertmarket/internal/notify"
	"github.com/alanyoungcy/assertmarket/internal/oracle"
	oracleclient "github.com/alanyoungcy/assertmarket/internal/platform/oracle"
	"github.com/alanyoungcy/assertmarket/internal/server/handler"
	"github.com/alanyoungcy/assertmarket/internal/server/ws"
	"github.com/alanyoungcy/assertmarket/internal/service"
	"github.com/alanyoungcy/assertmarket/internal/store/memory"
	"github.com/alanyoungcy/assertmarket/internal/store/postgres"
)

// stateStore is what both state backends provide: atomic units of work over
// markets and ledgers plus the event outbox.
type stateStore interface {
	domain.UnitOfWork
	domain.EventStore
}

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store stateStore

	// Redis-backed, nil without redis.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	ReplayGuard domain.ReplayGuard

	// Object storage, nil without s3.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Market core.
	Engine    *market.Engine
	Simulator *oracle.Simulator // nil with the remote oracle
	Publisher *service.EventPublisher
	Markets   *service.MarketService
	Hub       *ws.Hub

	// Checks reported by the health endpoint.
	Checks map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- State store ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient
	default:
		logger.WarnContext(ctx, "using the in-memory store; state is lost on restart")
		deps.Store = memory.New()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = redisClient
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}

		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(deps.Store, s3blob.NewWriter(s3Client, 0), reader, cfg.Archive.BatchSize)
		deps.Checks["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Market core ---
	if err := wireCore(cfg, deps, logger); err != nil {
		return fail(err)
	}

	return deps, cleanup, nil
}

// wireCore builds the oracle, the event fan-out and the engine on top of the
// infrastructure in deps.
func wireCore(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	self, err := engineAddress(cfg)
	if err != nil {
		return fmt.Errorf("wire: engine identity: %w", err)
	}
	// An empty whitelist admits just the configured currency.
	allowed := cfg.Collateral.Whitelist
	if len(allowed) == 0 {
		allowed = []string{cfg.Collateral.Currency}
	}
	whitelist, err := market.NewWhitelist(allowed...)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	liquidity, err := uint256.FromDecimal(cfg.Market.InitialLiquidity)
	if err != nil {
		return fmt.Errorf("wire: initial liquidity %q: %w", cfg.Market.InitialLiquidity, err)
	}

	oracleAddr := common.HexToAddress(cfg.Oracle.Address)
	var truth domain.Oracle
	switch cfg.Oracle.Kind {
	case "remote":
		truth = oracleclient.NewClient(cfg.Oracle.BaseURL, oracleAddr, &crypto.HMACAuth{
			Key:    cfg.Oracle.APIKey,
			Secret: cfg.Oracle.APISecret,
		}, cfg.Oracle.Timeout.Duration)
	default:
		minBond, err := uint256.FromDecimal(cfg.Oracle.MinimumBond)
		if err != nil {
			return fmt.Errorf("wire: oracle minimum bond %q: %w", cfg.Oracle.MinimumBond, err)
		}
		deps.Simulator = oracle.NewSimulator(oracle.Config{
			Address:       oracleAddr,
			MinimumBond:   minBond,
			SweepInterval: cfg.Oracle.SweepInterval.Duration,
		}, deps.Store, deps.LockManager, logger)
		truth = deps.Simulator
	}

	// With a bus the hub learns about events by subscribing to it, so events
	// from every replica reach every client.
	deps.Hub = ws.NewHub(deps.SignalBus, ws.Config{Channel: service.AllEventsPattern}, logger)
	deps.Publisher = service.NewEventPublisher(deps.SignalBus, deps.MarketCache, deps.Notifier, deps.Hub, logger)

	deps.Engine, err = market.New(deps.Store, truth, whitelist, self, common.HexToAddress(cfg.Collateral.Currency),
		market.WithInitialLiquidity(liquidity),
		market.WithPublisher(deps.Publisher),
		market.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	if deps.Simulator != nil {
		deps.Simulator.SetHandler(deps.Engine)
	}
	deps.Markets = service.NewMarketService(deps.Engine, deps.MarketCache, deps.Store, logger)
	return nil
}

// engineAddress is market.engine_address when set, else the address of the
// wallet key.
func engineAddress(cfg *config.Config) (common.Address, error) {
	if cfg.Market.EngineAddress != "" {
		return common.HexToAddress(cfg.Market.EngineAddress), nil
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return common.Address{}, err
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return common.Address{}, err
	}
	return signer.Address(), nil
}
