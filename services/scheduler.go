// services/scheduler.go
package services

import (
	"context"
	"time"

	"delivery-escrow-system/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// StartMaintenanceScheduler runs the badge convergence sweep and the escrow
// reconciliation check every interval. Call Shutdown on the result to stop it.
func StartMaintenanceScheduler(clock clockwork.Clock, interval time.Duration, badges *BadgeIssuer, deliveries *DeliveryRegistry) (gocron.Scheduler, error) {
	opts := []gocron.SchedulerOption{}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}

	// Every interval: mint badges that settlement could not
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			minted, err := badges.SyncLaggingBadges(context.Background())
			if err != nil {
				utils.Log.Errorf("[Scheduler] badge sync error: %v", err)
				return
			}
			if minted > 0 {
				utils.Log.Infof("🎖️ [Scheduler] badge sync minted %d", minted)
			}
		}),
		gocron.WithName("badge-sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	// Every interval: custody must cover what active requests hold
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			CheckEscrow(context.Background(), deliveries)
		}),
		gocron.WithName("escrow-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	return sched, nil
}

// CheckEscrow logs the reconciliation result and returns it.
func CheckEscrow(ctx context.Context, deliveries *DeliveryRegistry) (EscrowReport, error) {
	report, err := deliveries.EscrowReport(ctx)
	if err != nil {
		utils.Log.Errorf("[Scheduler] escrow reconcile error: %v", err)
		return report, err
	}
	if !report.Balanced {
		utils.Log.Warnf("🚨 escrow shortfall: %d active requests hold %s, custody has %s (short %s)",
			report.ActiveRequests, report.Held, report.CustodyBalance, report.Shortfall)
	}
	return report, nil
}
