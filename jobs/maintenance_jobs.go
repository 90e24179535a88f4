package jobs

import (
	"context"
	"time"

	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/sirupsen/logrus"
)

// GrantCloser soft-closes grants whose deadline has passed
type GrantCloser interface {
	CloseExpired(ctx context.Context) (int64, error)
}

// GrantExpiryJob marks open grants with a past deadline as closed and drops
// the cached open grant list when anything changed
type GrantExpiryJob struct {
	Grants GrantCloser
	Cache  CacheInvalidator
}

func NewGrantExpiryJob(grants GrantCloser, cache CacheInvalidator) *GrantExpiryJob {
	return &GrantExpiryJob{Grants: grants, Cache: cache}
}

func (j *GrantExpiryJob) Run() {
	startTime := time.Now()
	logrus.Info("Starting Grant Expiry Job")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	closed, err := j.Grants.CloseExpired(ctx)
	if err != nil {
		logrus.WithError(err).Error("Grant Expiry Job failed")
		return
	}
	if closed > 0 && j.Cache != nil {
		j.Cache.Invalidate()
	}

	logrus.WithFields(logrus.Fields{
		"closed":   closed,
		"duration": time.Since(startTime),
	}).Info("Grant Expiry Job completed")
}

// StaleNotificationJob fails notifications that stayed pending longer than
// Timeout, e.g. because the worker that took them crashed
type StaleNotificationJob struct {
	Notifications services.NotificationStore
	Timeout       time.Duration
	now           func() time.Time
}

const staleNotificationReason = "delivery timed out"

func NewStaleNotificationJob(notifications services.NotificationStore, timeout time.Duration) *StaleNotificationJob {
	return &StaleNotificationJob{
		Notifications: notifications,
		Timeout:       timeout,
		now:           time.Now,
	}
}

func (j *StaleNotificationJob) Run() {
	logrus.Info("Starting Stale Notification Job")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.Timeout)
	failed, err := j.Notifications.FailStalePending(ctx, cutoff, staleNotificationReason)
	if err != nil {
		logrus.WithError(err).Error("Stale Notification Job failed")
		return
	}

	logrus.WithFields(logrus.Fields{
		"failed": failed,
		"cutoff": cutoff,
	}).Info("Stale Notification Job completed")
}

// CacheCleanupJob drops expired in-memory cache entries
type CacheCleanupJob struct {
	CacheService *services.CacheService
}

func NewCacheCleanupJob(cacheService *services.CacheService) *CacheCleanupJob {
	return &CacheCleanupJob{CacheService: cacheService}
}

func (j *CacheCleanupJob) Run() {
	removed := j.CacheService.CleanupExpired()
	logrus.WithFields(logrus.Fields{
		"removed":   removed,
		"remaining": j.CacheService.Size(),
	}).Debug("Cache Cleanup Job completed")
}

// MetricsSummaryJob logs the collected service metrics
type MetricsSummaryJob struct {
	reporters []func()
}

func NewMetricsSummaryJob() *MetricsSummaryJob {
	return &MetricsSummaryJob{}
}

// Register adds a summary function, e.g. ServiceMetrics.LogSummary
func (j *MetricsSummaryJob) Register(report func()) {
	if report != nil {
		j.reporters = append(j.reporters, report)
	}
}

func (j *MetricsSummaryJob) Run() {
	for _, report := range j.reporters {
		report()
	}
}
