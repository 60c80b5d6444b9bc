package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/mortuary/internal/config"
	"github.com/ehr/mortuary/internal/domain/casefile"
	"github.com/ehr/mortuary/internal/domain/correction"
	"github.com/ehr/mortuary/internal/domain/custody"
	"github.com/ehr/mortuary/internal/domain/release"
	"github.com/ehr/mortuary/internal/domain/tray"
	"github.com/ehr/mortuary/internal/domain/verification"
	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
	"github.com/ehr/mortuary/internal/platform/db"
	"github.com/ehr/mortuary/internal/platform/middleware"
	"github.com/ehr/mortuary/internal/platform/notification"
	"github.com/ehr/mortuary/migrations"
)

// store bundles the repositories of one backend with its unit of work.
type store struct {
	cases       casefile.CaseRepository
	attempts    verification.AttemptRepository
	corrections correction.RequestRepository
	trays       tray.TrayRepository
	transfers   custody.TransferRepository
	tx          casefile.Transactor
	audit       middleware.AuditRecorder
	pool        *pgxpool.Pool
}

func (s *store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func memoryStore(prefix string) *store {
	return &store{
		cases:       casefile.NewCaseRepoMemory(prefix),
		attempts:    verification.NewAttemptRepoMemory(),
		corrections: correction.NewRequestRepoMemory(),
		trays:       tray.NewTrayRepoMemory(),
		transfers:   custody.NewTransferRepoMemory(),
		tx:          &db.SerialTx{},
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.Store == config.StoreMemory {
		return memoryStore(cfg.CaseCodePrefix), nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &store{
		cases:       casefile.NewCaseRepoPG(pool, cfg.CaseCodePrefix),
		attempts:    verification.NewAttemptRepoPG(pool),
		corrections: correction.NewRequestRepoPG(pool),
		trays:       tray.NewTrayRepoPG(pool),
		transfers:   custody.NewTransferRepoPG(pool),
		tx:          db.NewTxManager(pool),
		audit:       middleware.NewAuditRecorderPG(pool),
		pool:        pool,
	}, nil
}

// migrationFiles prefers MIGRATIONS_DIR when set and the embedded schema
// otherwise.
func migrationFiles(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

// publisher fans events out to the log and, when configured, the Redis
// stream. Each broker sink retries in the background on its own, so a broker
// outage never repeats delivery to the other sinks.
type publisher struct {
	sinks    notification.Multi
	deferred []*notification.Async
	redis    *redis.Client
}

func (p *publisher) Publish(ctx context.Context, ev notification.Event) error {
	return p.sinks.Publish(ctx, ev)
}

// Wait blocks until background deliveries finish.
func (p *publisher) Wait() {
	for _, a := range p.deferred {
		a.Wait()
	}
}

func (p *publisher) Close() {
	if p.redis != nil {
		p.redis.Close()
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*publisher, error) {
	p := &publisher{sinks: notification.Multi{notification.NewLogPublisher(logger)}}
	if cfg.RedisURL != "" {
		client, err := notification.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		p.redis = client
		stream := notification.NewAsync(notification.NewRedisPublisher(client, cfg.NotifyStream, 10000), logger, cfg.NotifyTimeout)
		p.sinks = append(p.sinks, stream)
		p.deferred = append(p.deferred, stream)
		logger.Info().Str("stream", cfg.NotifyStream).Msg("publishing notifications to redis")
	}
	return p, nil
}

// newGate builds the release gate from the configured hold sources. A
// development setup without source URLs gets in-memory sources that report
// no holds.
func newGate(cfg *config.Config, logger zerolog.Logger) *release.Evaluator {
	var sources []release.HoldSource
	if cfg.DebtHoldURL != "" {
		sources = append(sources, release.NewHTTPSource("billing", release.ReasonEconomicDebt,
			cfg.DebtHoldURL, cfg.HoldTimeout, cfg.HoldRetries))
	} else {
		sources = append(sources, release.NewStaticSource("billing", release.ReasonEconomicDebt))
	}
	if cfg.BloodHoldURL != "" {
		sources = append(sources, release.NewHTTPSource("blood_bank", release.ReasonBloodDebt,
			cfg.BloodHoldURL, cfg.HoldTimeout, cfg.HoldRetries))
	} else {
		sources = append(sources, release.NewStaticSource("blood_bank", release.ReasonBloodDebt))
	}
	if cfg.LegalAuthURL != "" {
		sources = append(sources, release.NewLegalAuthorizationSource(cfg.LegalAuthURL, cfg.HoldTimeout, cfg.HoldRetries))
	}

	// The per-source timeout covers the HTTP client's retries.
	gate := release.NewEvaluator(sources, cfg.HoldTimeout*time.Duration(cfg.HoldRetries+1), logger)
	logger.Info().Strs("sources", gate.Sources()).Msg("release gate configured")
	return gate
}

type app struct {
	cases       *casefile.Controller
	trays       *tray.Service
	corrections *correction.Service
	logger      zerolog.Logger
}

func newApp(cfg *config.Config, st *store, gate casefile.Gate, pub notification.Publisher, logger zerolog.Logger) *app {
	trays := tray.NewService(st.trays, st.tx, thresholds(cfg), logger)
	corrections := correction.NewService(st.corrections, cfg.CorrectionSLA, logger)
	ctrl := casefile.NewController(casefile.Deps{
		Cases:       st.cases,
		Tx:          st.tx,
		Attempts:    st.attempts,
		Corrections: corrections,
		Trays:       trays,
		Custody:     custody.NewService(st.transfers, logger),
		Gate:        gate,
		Publisher:   pub,
	}, logger)
	return &app{cases: ctrl, trays: trays, corrections: corrections, logger: logger}
}

// seedActor creates inventory from the command line.
var seedActor = auth.Actor{ID: "system", Roles: []string{auth.RoleAdmin}}

// seedTrays creates trays <prefix>-01 .. <prefix>-<count>. Codes that are
// already taken are left alone.
func seedTrays(ctx context.Context, svc *tray.Service, prefix string, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("count must be positive")
	}
	created := 0
	for i := 1; i <= count; i++ {
		code := fmt.Sprintf("%s-%02d", prefix, i)
		if _, err := svc.Create(ctx, code, "", seedActor); err != nil {
			if apperr.HasCode(err, apperr.CodeTrayCodeTaken) {
				continue
			}
			return created, fmt.Errorf("create tray %s: %w", code, err)
		}
		created++
	}
	return created, nil
}
