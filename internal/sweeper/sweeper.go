// Package sweeper force-fails transactions abandoned in PROCESSING.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/invoza/invoza/internal/clock"
	"github.com/invoza/invoza/internal/observability/metrics"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
)

// abandonReason lands in failure_reason so support can tell a sweep from a
// gateway decline.
const abandonReason = "abandoned: no gateway confirmation"

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	TxRepo transactiondomain.Repository
	Config Config `optional:"true"`
}

type Sweeper struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    Config
	clock  clock.Clock
	txRepo transactiondomain.Repository
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.TxRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:     p.DB,
		log:    p.Log.Named("sweeper"),
		cfg:    p.Config.withDefaults(),
		clock:  p.Clock,
		txRepo: p.TxRepo,
	}, nil
}

// RunOnce claims every stale PROCESSING row in one conditional update. Rows
// a webhook resolved in the meantime no longer match and are left alone.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.StaleThreshold)

	claimed, err := s.txRepo.FailStaleProcessing(ctx, s.db, cutoff, abandonReason, now)
	if err != nil {
		return err
	}
	if claimed > 0 {
		metrics.Billing().IncSweeperRecovered(int(claimed))
		s.log.Warn("force-failed stale transactions",
			zap.Int64("count", claimed),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("recovery sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
