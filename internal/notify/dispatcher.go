// Package notify fans notifications out to tenant members: one in-app row per
// recipient, followed by an optional outbound channel.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"stayops/internal/domain"
	"stayops/internal/metrics"
	"stayops/internal/repo"
)

const channelInApp = "in_app"

// Channel delivers a notification outside the application.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, to domain.Member, n domain.Notification) error
}

type Dispatcher struct {
	Repo        repo.Repo
	Channel     Channel
	Concurrency int
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Fanout writes n once per recipient and returns how many in-app rows were
// written. Each recipient is isolated: one failure never blocks another.
func (d Dispatcher) Fanout(ctx context.Context, recipients []domain.Member, n domain.Notification) int {
	if len(recipients) == 0 {
		return 0
	}
	limit := d.Concurrency
	if limit <= 0 {
		limit = 1
	}
	log := d.logger()
	created := d.now().UTC()

	var delivered atomic.Int64
	p := pool.New().WithMaxGoroutines(limit)
	for _, member := range recipients {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			row := n
			row.ID = uuid.NewString()
			row.OrgID = member.OrgID
			row.UserID = member.UserID
			row.CreatedAt = created
			err := d.Repo.InsertNotification(ctx, row)
			d.Metrics.ObserveNotification(channelInApp, err)
			if err != nil {
				log.Warn("notification write failed",
					zap.String("org_id", member.OrgID),
					zap.String("user_id", member.UserID),
					zap.String("entity_id", n.EntityID),
					zap.Error(err))
				return
			}
			delivered.Add(1)

			if d.Channel == nil || member.Email == "" {
				return
			}
			err = d.Channel.Deliver(ctx, member, row)
			d.Metrics.ObserveNotification(d.Channel.Name(), err)
			if err != nil {
				log.Warn("outbound delivery failed",
					zap.String("channel", d.Channel.Name()),
					zap.String("org_id", member.OrgID),
					zap.String("user_id", member.UserID),
					zap.Error(err))
			}
		})
	}
	p.Wait()
	return int(delivered.Load())
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}
