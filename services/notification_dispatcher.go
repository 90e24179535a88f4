package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const dispatcherServiceName = "notification-dispatcher"

// DispatchSummary counts what one dispatch run did
type DispatchSummary struct {
	Grants   int `json:"grants"`
	Profiles int `json:"profiles"`
	Matched  int `json:"matched"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Capped   int `json:"capped"`
	Failed   int `json:"failed"`
}

// NotificationDispatcher decides which profiles hear about a newly active
// grant, records one notification per enabled channel and hands delivery
// to the queue. Duplicate suppression relies on the store's uniqueness
// constraint, so concurrent runs for the same grant are safe.
type NotificationDispatcher struct {
	profiles      ProfileStore
	grants        GrantIndex
	notifications NotificationStore
	queue         DeliveryQueue
	engine        *MatchEngine
	config        shared.MatchingConfig

	serviceMetrics *shared.ServiceMetrics
}

func NewNotificationDispatcher(
	profiles ProfileStore,
	grants GrantIndex,
	notifications NotificationStore,
	queue DeliveryQueue,
	engine *MatchEngine,
	config shared.MatchingConfig,
) *NotificationDispatcher {
	defaults := shared.NewDefaultUnifiedConfiguration().Matching
	if config.NotificationThreshold <= 0 || config.NotificationThreshold > 1 {
		config.NotificationThreshold = defaults.NotificationThreshold
	}
	if config.MaxNotificationsPerRun <= 0 {
		config.MaxNotificationsPerRun = defaults.MaxNotificationsPerRun
	}
	if config.DefaultNotificationsPage <= 0 {
		config.DefaultNotificationsPage = defaults.DefaultNotificationsPage
	}
	if config.MaxNotificationsPage <= 0 {
		config.MaxNotificationsPage = defaults.MaxNotificationsPage
	}

	return &NotificationDispatcher{
		profiles:       profiles,
		grants:         grants,
		notifications:  notifications,
		queue:          queue,
		engine:         engine,
		config:         config,
		serviceMetrics: shared.NewServiceMetrics("Notification_Dispatcher"),
	}
}

// Threshold returns the minimum score that triggers a notification
func (d *NotificationDispatcher) Threshold() float64 {
	return d.config.NotificationThreshold
}

// ProcessNewGrant notifies every active profile whose score for grant
// reaches the threshold, once per enabled channel, and returns the
// notifications created by this call. Running it again for the same grant
// creates nothing. Storage errors for single notifications are collected
// and returned together after the remaining profiles were processed.
func (d *NotificationDispatcher) ProcessNewGrant(ctx context.Context, grant *models.Grant) ([]models.Notification, error) {
	if err := d.engine.ValidateGrant(grant); err != nil {
		return nil, err
	}

	profiles, err := d.profiles.GetActiveProfiles(ctx)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, dispatcherServiceName, "load_active_profiles", true)
	}

	summary := DispatchSummary{Grants: 1}
	created, err := d.dispatchGrant(ctx, grant, profiles, &summary)

	d.logSummary("Grant dispatch completed", summary, logrus.Fields{"grant_id": grant.ID})
	return created, err
}

// ProcessGrantByID loads a grant from the index and dispatches it
func (d *NotificationDispatcher) ProcessGrantByID(ctx context.Context, grantID uuid.UUID) ([]models.Notification, error) {
	grant, err := d.grants.Get(ctx, grantID)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, dispatcherServiceName, "load_grant", true)
	}
	if grant == nil {
		return nil, shared.NewNotFoundError("grant", grantID.String(), dispatcherServiceName, "process_grant")
	}
	return d.ProcessNewGrant(ctx, grant)
}

// ProcessNewGrants dispatches a batch of grants against one profile
// snapshot. Each profile is notified about at most MaxNotificationsPerRun
// grants per call, picked by rank among its matches in the batch; the
// remaining matches are counted as capped.
func (d *NotificationDispatcher) ProcessNewGrants(ctx context.Context, grants []models.Grant) (DispatchSummary, error) {
	summary := DispatchSummary{Grants: len(grants)}
	if len(grants) == 0 {
		return summary, nil
	}

	profiles, err := d.profiles.GetActiveProfiles(ctx)
	if err != nil {
		return summary, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, dispatcherServiceName, "load_active_profiles", true)
	}
	summary.Profiles = len(profiles)

	start := time.Now()
	at := d.engine.Now()
	var errs []error

	prepared := make([]*PreparedGrant, 0, len(grants))
	for i := range grants {
		grant := &grants[i]
		if err := d.engine.ValidateGrant(grant); err != nil {
			summary.Failed++
			errs = append(errs, err)
			continue
		}
		if !d.engine.IsLive(grant, at) {
			continue
		}
		prepared = append(prepared, d.engine.PrepareGrant(grant))
	}

	created := 0
	for i := range profiles {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		profile := &profiles[i]
		ranked := d.rankMatches(profile, prepared, at)
		summary.Matched += len(ranked)
		if len(ranked) == 0 || len(profile.EnabledChannels()) == 0 {
			continue
		}

		notified := 0
		for _, m := range ranked {
			if notified >= d.config.MaxNotificationsPerRun {
				summary.Capped++
				continue
			}
			ns, notifyErrs := d.notifyProfile(ctx, profile, m.grant, m.result, &summary)
			errs = append(errs, notifyErrs...)
			if len(ns) > 0 {
				notified++
				created += len(ns)
			}
		}
	}

	d.serviceMetrics.RecordRequest(len(errs) == 0, time.Since(start))
	d.serviceMetrics.AddToCounter("notifications_created", int64(created))

	d.logSummary("Batch dispatch completed", summary, nil)
	return summary, errors.Join(errs...)
}

type rankedMatch struct {
	grant  *models.Grant
	result MatchResult
}

// rankMatches returns the grants reaching the threshold for profile, best
// first by CompareRecommendations
func (d *NotificationDispatcher) rankMatches(profile *models.UserProfile, prepared []*PreparedGrant, at time.Time) []rankedMatch {
	matches := make([]rankedMatch, 0, len(prepared))
	for _, pg := range prepared {
		result := d.engine.EvaluatePrepared(profile, pg, at)
		if result.Score < d.config.NotificationThreshold {
			continue
		}
		matches = append(matches, rankedMatch{grant: pg.Grant, result: result})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a := models.Recommendation{Grant: *matches[i].grant, Score: matches[i].result.Score}
		b := models.Recommendation{Grant: *matches[j].grant, Score: matches[j].result.Score}
		return CompareRecommendations(a, b) < 0
	})
	return matches
}

// dispatchGrant scores one grant against profiles and notifies every match
func (d *NotificationDispatcher) dispatchGrant(
	ctx context.Context,
	grant *models.Grant,
	profiles []models.UserProfile,
	summary *DispatchSummary,
) ([]models.Notification, error) {
	start := time.Now()
	created := []models.Notification{}
	summary.Profiles = len(profiles)

	at := d.engine.Now()
	if !d.engine.IsLive(grant, at) {
		logrus.WithFields(logrus.Fields{
			"component": "NotificationDispatcher",
			"grant_id":  grant.ID,
			"status":    grant.Status,
		}).Debug("Grant is closed or past its deadline, nothing to dispatch")
		return created, nil
	}

	prepared := d.engine.PrepareGrant(grant)
	var errs []error

	for i := range profiles {
		profile := &profiles[i]
		result := d.engine.EvaluatePrepared(profile, prepared, at)
		if result.Score < d.config.NotificationThreshold {
			continue
		}
		summary.Matched++

		ns, notifyErrs := d.notifyProfile(ctx, profile, grant, result, summary)
		created = append(created, ns...)
		errs = append(errs, notifyErrs...)
	}

	d.serviceMetrics.RecordRequest(len(errs) == 0, time.Since(start))
	d.serviceMetrics.AddToCounter("notifications_created", int64(len(created)))

	if len(errs) > 0 {
		return created, shared.NewServiceError(
			shared.ErrorCategoryDatabase,
			shared.CodeServiceUnavailable,
			fmt.Sprintf("dispatch of grant %s: %s", grant.ID, shared.BuildBatchProcessingErrorSummary(len(created), len(errs), errs)),
			dispatcherServiceName,
			"dispatch_grant",
			true,
			errors.Join(errs...),
		)
	}
	return created, nil
}

// notifyProfile records one notification per enabled channel of profile.
// Channels already notified for the grant are counted as skipped.
func (d *NotificationDispatcher) notifyProfile(
	ctx context.Context,
	profile *models.UserProfile,
	grant *models.Grant,
	result MatchResult,
	summary *DispatchSummary,
) ([]models.Notification, []error) {
	var created []models.Notification
	var errs []error

	for _, channel := range profile.EnabledChannels() {
		n, err := d.notifyChannel(ctx, profile, grant, channel, result)
		switch {
		case shared.IsDuplicateNotification(err):
			summary.Skipped++
		case err != nil:
			summary.Failed++
			errs = append(errs, err)
		default:
			if n.Status == models.NotificationFailed {
				summary.Failed++
			}
			summary.Created++
			created = append(created, *n)
		}
	}
	return created, errs
}

// notifyChannel records and enqueues one notification. It returns
// shared.ErrDuplicateNotification when the triple was already notified.
func (d *NotificationDispatcher) notifyChannel(
	ctx context.Context,
	profile *models.UserProfile,
	grant *models.Grant,
	channel models.NotificationChannel,
	result MatchResult,
) (*models.Notification, error) {
	exists, err := d.notifications.Exists(ctx, profile.ID, grant.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("check notification for profile %s: %w", profile.ID, err)
	}
	if exists {
		return nil, shared.ErrDuplicateNotification
	}

	n := &models.Notification{
		ID:              uuid.New(),
		ProfileID:       profile.ID,
		GrantID:         grant.ID,
		Channel:         channel,
		Recipient:       profile.Recipient(channel),
		Status:          models.NotificationPending,
		Score:           result.Score,
		MatchedKeywords: append([]string{}, result.MatchedKeywords...),
	}
	if err := d.notifications.Create(ctx, n); err != nil {
		if shared.IsDuplicateNotification(err) {
			return nil, shared.ErrDuplicateNotification
		}
		return nil, fmt.Errorf("create notification for profile %s: %w", profile.ID, err)
	}

	req := models.DeliveryRequest{
		NotificationID:  n.ID,
		ProfileID:       profile.ID,
		GrantID:         grant.ID,
		Channel:         channel,
		Recipient:       n.Recipient,
		Grant:           *grant,
		Profile:         *profile,
		Score:           n.Score,
		MatchedKeywords: n.MatchedKeywords,
		EnqueuedAt:      time.Now().UTC(),
	}
	if err := d.queue.Enqueue(ctx, req); err != nil {
		reason := "enqueue failed: " + err.Error()
		logrus.WithFields(logrus.Fields{
			"component":       "NotificationDispatcher",
			"notification_id": n.ID,
			"channel":         channel,
			"error":           err,
		}).Error("Failed to hand notification to delivery queue")

		if updateErr := d.notifications.UpdateStatus(ctx, n.ID, models.NotificationFailed, &reason, nil); updateErr != nil {
			return nil, fmt.Errorf("mark notification %s failed: %w", n.ID, updateErr)
		}
		n.Status = models.NotificationFailed
		n.Error = &reason
	}

	return n, nil
}

// RecordDeliveryResult stores the outcome reported by a sender. A nil
// deliveryErr marks the notification sent. Results for notifications that
// already have a final status are ignored.
func (d *NotificationDispatcher) RecordDeliveryResult(ctx context.Context, notificationID uuid.UUID, deliveryErr error) error {
	status := models.NotificationSent
	var errMsg *string
	var sentAt *time.Time
	if deliveryErr != nil {
		status = models.NotificationFailed
		msg := deliveryErr.Error()
		errMsg = &msg
	} else {
		now := time.Now().UTC()
		sentAt = &now
	}

	err := d.notifications.UpdateStatus(ctx, notificationID, status, errMsg, sentAt)
	if errors.Is(err, ErrNotificationFinal) {
		logrus.WithFields(logrus.Fields{
			"component":       "NotificationDispatcher",
			"notification_id": notificationID,
			"status":          status,
		}).Warn("Delivery result for a notification that is already final, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	d.serviceMetrics.IncrementCounter("deliveries_" + string(status))
	return nil
}

// GetRecentForProfile returns the newest notifications of a profile
func (d *NotificationDispatcher) GetRecentForProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]models.NotificationWithGrant, error) {
	profile, err := d.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, dispatcherServiceName, "recent_notifications", true)
	}
	if profile == nil {
		return nil, shared.NewNotFoundError("profile", profileID.String(), dispatcherServiceName, "recent_notifications")
	}
	return d.notifications.ListRecentForProfile(ctx, profile.ID, d.NormalizePageLimit(limit))
}

// GetRecentForUser returns the newest notifications of the profile owned by userID
func (d *NotificationDispatcher) GetRecentForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.NotificationWithGrant, error) {
	profile, err := d.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, dispatcherServiceName, "recent_notifications", true)
	}
	if profile == nil {
		return nil, shared.NewNotFoundError("profile for user", userID.String(), dispatcherServiceName, "recent_notifications")
	}
	return d.notifications.ListRecentForProfile(ctx, profile.ID, d.NormalizePageLimit(limit))
}

// NormalizePageLimit applies the listing default and maximum
func (d *NotificationDispatcher) NormalizePageLimit(limit int) int {
	if limit <= 0 {
		return d.config.DefaultNotificationsPage
	}
	if limit > d.config.MaxNotificationsPage {
		return d.config.MaxNotificationsPage
	}
	return limit
}

// GetServiceMetrics returns the dispatcher metrics
func (d *NotificationDispatcher) GetServiceMetrics() *shared.ServiceMetrics {
	return d.serviceMetrics
}

func (d *NotificationDispatcher) logSummary(message string, summary DispatchSummary, extra logrus.Fields) {
	fields := logrus.Fields{
		"component": "NotificationDispatcher",
		"grants":    summary.Grants,
		"profiles":  summary.Profiles,
		"matched":   summary.Matched,
		"created":   summary.Created,
		"skipped":   summary.Skipped,
		"capped":    summary.Capped,
		"failed":    summary.Failed,
		"threshold": d.config.NotificationThreshold,
	}
	for k, v := range extra {
		fields[k] = v
	}
	logrus.WithFields(fields).Info(message)
}
