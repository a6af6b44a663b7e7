package main

import (
	"context"
	"time"

	"EgressGate/internal/biz"
	"EgressGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// newPolicyReloadCron schedules periodic policy snapshot reloads at the
// configured refresh interval. The returned scheduler is not started; the
// application lifecycle starts and stops it.
func newPolicyReloadCron(c *conf.Gateway, guard *biz.PolicyGuard, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	interval := c.Policy.RefreshInterval.AsDuration()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	sched := cron.New()
	_, err := sched.AddFunc("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := guard.ForceRefresh(ctx); err != nil {
			helper.Errorw("scheduled policy reload failed", "error", err)
		} else {
			helper.Debug("scheduled policy reload completed")
		}
	})
	if err != nil {
		helper.Errorw("failed to register policy reload cron job", "error", err)
		return sched
	}

	helper.Infof("policy reload cron job registered: runs every %s", interval)

	return sched
}
