package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/memberledger/internal/api"
	"github.com/tutu-network/memberledger/internal/app/membership"
	"github.com/tutu-network/memberledger/internal/domain"
	"github.com/tutu-network/memberledger/internal/infra/events"
	"github.com/tutu-network/memberledger/internal/infra/ledger"
	"github.com/tutu-network/memberledger/internal/infra/observability"
	"github.com/tutu-network/memberledger/internal/infra/sqlite"
)

// ErrNoOwner is returned when an empty journal has no configured owner.
var ErrNoOwner = errors.New("registry.owner must be set to initialize a new registry")

const shutdownTimeout = 10 * time.Second

// Daemon owns every long-lived resource of a memberledger process.
type Daemon struct {
	Config   Config
	DB       *sqlite.DB
	Runtime  *ledger.Runtime
	Registry *membership.Registry
	Service  *membership.Service
	Tracer   *observability.Tracer

	nc     *nats.Conn
	logger *zap.Logger
}

// New opens storage, restores or creates the registry and builds the
// service. The caller must Close the daemon.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	d := &Daemon{Config: cfg, DB: db, logger: logger}

	var publisher domain.EntryPublisher = events.Noop{}
	nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.ClientName)
	if err != nil {
		d.Close()
		return nil, err
	}
	if nc != nil {
		d.nc = nc
		publisher = events.NewBus(nc, cfg.NATS.SubjectPrefix)
		logger.Info("publishing ledger events", zap.String("url", cfg.NATS.URL))
	}

	if cfg.Tracing.Enabled {
		d.Tracer = observability.NewTracer(observability.TracerConfig{
			Enabled:  true,
			MaxSpans: cfg.Tracing.MaxSpans,
		})
	}

	d.Runtime = ledger.New(ledger.Config{
		MaxAddresses: cfg.Registry.MaxAddresses,
		Clock:        time.Now,
	}, db, publisher, logger.Named("ledger"))

	opts := membership.Options{
		Policy: cfg.Registry.Policy(),
		Logger: logger,
		Tracer: d.Tracer,
	}
	d.Registry, err = d.openRegistry(ctx, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Service = membership.NewService(d.Runtime, d.Registry, cfg.Registry.Service(), logger)
	return d, nil
}

// openRegistry restores every stored registry into the runtime and returns
// the oldest one. On an empty journal it initializes a new registry.
func (d *Daemon) openRegistry(ctx context.Context, opts membership.Options) (*membership.Registry, error) {
	addrs, err := d.DB.ListRegistries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registries: %w", err)
	}

	if len(addrs) == 0 {
		owner := domain.Address(d.Config.Registry.Owner)
		if owner.IsZero() {
			return nil, ErrNoOwner
		}
		return membership.Initialize(ctx, d.Runtime, owner, opts)
	}

	var served *membership.Registry
	for _, addr := range addrs {
		snap, err := d.DB.LoadSnapshot(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("load registry %s: %w", addr, err)
		}
		reg, err := membership.Restore(d.Runtime, snap, opts)
		if err != nil {
			return nil, fmt.Errorf("restore registry %s: %w", addr, err)
		}
		if served == nil {
			served = reg
		}
	}
	if len(addrs) > 1 {
		d.logger.Warn("journal holds several registries, serving the oldest",
			zap.Int("registries", len(addrs)),
			zap.String("served", served.Address().String()))
	}
	return served, nil
}

// Close releases storage and the NATS connection.
func (d *Daemon) Close() error {
	if d.nc != nil {
		d.nc.Close()
	}
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// APIServer builds the HTTP API with the configured extras.
func (d *Daemon) APIServer() *api.Server {
	srv := api.NewServer(d.Service, d.logger)
	srv.SetHistory(d.DB)
	if d.Tracer != nil {
		srv.SetTracer(d.Tracer)
	}
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	return srv
}

// TakeSnapshot records the current supply, prunes old snapshots and
// refreshes the supply gauges.
func (d *Daemon) TakeSnapshot(ctx context.Context) (domain.SupplySnapshot, error) {
	s := d.Registry.Supply(ctx)
	if _, err := d.DB.InsertSupplySnapshot(ctx, s); err != nil {
		return s, fmt.Errorf("insert supply snapshot: %w", err)
	}
	if keep := d.Config.Snapshots.Keep; keep > 0 {
		if _, err := d.DB.PruneSupplySnapshots(ctx, s.Registry, keep); err != nil {
			return s, fmt.Errorf("prune supply snapshots: %w", err)
		}
	}

	observability.Supply.WithLabelValues(string(domain.KindRewardCredit)).Set(float64(s.RewardSupply))
	observability.Supply.WithLabelValues(string(domain.KindBonusCredit)).Set(float64(s.BonusSupply))
	observability.Supply.WithLabelValues(string(domain.KindMemberCard)).Set(float64(s.CertificateSupply))
	observability.FeeReserve.Set(float64(s.FeeReserve))
	return s, nil
}

// Run serves the API and runs the snapshot scheduler until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              d.Config.API.Addr(),
		Handler:           d.APIServer().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if d.Config.Snapshots.Enabled {
		interval, err := d.Config.Snapshots.interval()
		if err != nil {
			return err
		}
		_, err = sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				s, err := d.TakeSnapshot(ctx)
				if err != nil {
					d.logger.Error("supply snapshot failed", zap.Error(err))
					return
				}
				d.logger.Debug("supply snapshot", zap.Stringer("supply", s))
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule supply snapshots: %w", err)
		}
	}
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info("memberledger listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("registry", d.Registry.Address().String()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Shutdown(); err != nil {
			d.logger.Warn("scheduler shutdown", zap.Error(err))
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
