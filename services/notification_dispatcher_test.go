package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type dispatcherFixture struct {
	profiles      *memoryProfileStore
	grants        *memoryGrantIndex
	notifications *memoryNotificationStore
	queue         *recordingQueue
	dispatcher    *NotificationDispatcher
}

func newDispatcherFixture(config shared.MatchingConfig, profiles ...models.UserProfile) *dispatcherFixture {
	f := &dispatcherFixture{
		profiles:      newMemoryProfileStore(profiles...),
		grants:        &memoryGrantIndex{},
		notifications: newMemoryNotificationStore(),
		queue:         &recordingQueue{},
	}
	f.dispatcher = NewNotificationDispatcher(f.profiles, f.grants, f.notifications, f.queue, testEngine(), config)
	return f
}

func bothChannels(p models.UserProfile) models.UserProfile {
	p.TelegramNotifications = true
	p.TelegramChatID = strPtr("123456")
	return p
}

func TestProcessNewGrantCreatesOnePerChannel(t *testing.T) {
	profile := bothChannels(solarProfile())
	f := newDispatcherFixture(shared.MatchingConfig{}, profile)
	grant := solarGrant()

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("ProcessNewGrant failed: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(created))
	}

	channels := map[models.NotificationChannel]string{}
	for _, n := range created {
		if n.Status != models.NotificationPending {
			t.Errorf("expected pending, got %s", n.Status)
		}
		if n.ProfileID != profile.ID || n.GrantID != grant.ID {
			t.Errorf("notification points at wrong profile or grant: %+v", n)
		}
		channels[n.Channel] = n.Recipient
	}
	if channels[models.ChannelEmail] != "ana@example.com" || channels[models.ChannelTelegram] != "123456" {
		t.Errorf("unexpected recipients: %v", channels)
	}
	if f.queue.len() != 2 {
		t.Errorf("expected 2 queued deliveries, got %d", f.queue.len())
	}
}

func TestProcessNewGrantIsIdempotent(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, bothChannels(solarProfile()))
	grant := solarGrant()

	if _, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	again, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second run created %d notifications", len(again))
	}
	if f.notifications.count() != 2 {
		t.Errorf("expected 2 stored notifications, got %d", f.notifications.count())
	}
}

func TestProcessNewGrantHandlesConcurrentDuplicate(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	grant := solarGrant()

	if _, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// another dispatcher won the race between Exists and Create
	f.notifications.hideExists = true
	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("duplicate on create must not fail the run: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("expected nothing created, got %d", len(created))
	}
}

func TestProcessNewGrantBelowThreshold(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	grant := unrelatedGrant()

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("ProcessNewGrant failed: %v", err)
	}
	if len(created) != 0 || f.queue.len() != 0 {
		t.Fatalf("grant scoring 0.2 must not notify, created %d", len(created))
	}
}

func TestProcessNewGrantCustomThreshold(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{NotificationThreshold: 0.1}, solarProfile())
	grant := unrelatedGrant()

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("ProcessNewGrant failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 notification with threshold 0.1, got %d", len(created))
	}
	if f.dispatcher.Threshold() != 0.1 {
		t.Errorf("unexpected threshold %v", f.dispatcher.Threshold())
	}
}

func TestProcessNewGrantSkipsProfilesWithoutChannels(t *testing.T) {
	noContact := solarProfile()
	noContact.Email = nil

	f := newDispatcherFixture(shared.MatchingConfig{}, noContact)
	grant := solarGrant()

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("ProcessNewGrant failed: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("profile without a usable channel got %d notifications", len(created))
	}
}

func TestProcessNewGrantIgnoresClosedGrant(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	grant := solarGrant()
	grant.Status = models.GrantStatusClosed

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil || len(created) != 0 {
		t.Fatalf("closed grant: created %d, err %v", len(created), err)
	}
}

func TestProcessNewGrantRejectsInvalidGrant(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	grant := solarGrant()
	grant.ID = uuid.Nil

	_, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if !shared.HasCode(err, shared.CodeInvalidGrant) {
		t.Fatalf("expected INVALID_GRANT, got %v", err)
	}
}

func TestProcessNewGrantEnqueueFailure(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	f.queue.err = errors.New("queue down")
	grant := solarGrant()

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil {
		t.Fatalf("enqueue failures are recorded on the notification, got %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(created))
	}
	stored := f.notifications.get(created[0].ID)
	if stored.Status != models.NotificationFailed || stored.Error == nil {
		t.Fatalf("expected stored notification failed with reason, got %+v", stored)
	}
	if created[0].Status != models.NotificationFailed {
		t.Errorf("returned notification should report failed, got %s", created[0].Status)
	}
}

func TestProcessNewGrantCollectsStorageErrors(t *testing.T) {
	first := solarProfile()
	second := solarProfile()
	f := newDispatcherFixture(shared.MatchingConfig{}, first, second)
	f.notifications.createErr = errStorage
	grant := solarGrant()

	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, errStorage) {
		t.Errorf("expected the storage error to be wrapped, got %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected no notifications, got %d", len(created))
	}
	if f.notifications.createCalls != 2 {
		t.Errorf("expected both profiles attempted, got %d create calls", f.notifications.createCalls)
	}
}

func TestProcessGrantByID(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	grant := solarGrant()
	f.grants.grants = []models.Grant{grant}

	created, err := f.dispatcher.ProcessGrantByID(context.Background(), grant.ID)
	if err != nil || len(created) != 1 {
		t.Fatalf("expected 1 notification, got %d (err %v)", len(created), err)
	}

	_, err = f.dispatcher.ProcessGrantByID(context.Background(), uuid.New())
	if !shared.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND for unknown grant, got %v", err)
	}
}

func TestProcessNewGrantsCapsPerProfile(t *testing.T) {
	profile := solarProfile()
	f := newDispatcherFixture(shared.MatchingConfig{MaxNotificationsPerRun: 2}, profile)

	grants := make([]models.Grant, 5)
	for i := range grants {
		grants[i] = solarGrant()
		grants[i].Title = fmt.Sprintf("Solar Energy Grant %d", i)
	}

	summary, err := f.dispatcher.ProcessNewGrants(context.Background(), grants)
	if err != nil {
		t.Fatalf("ProcessNewGrants failed: %v", err)
	}
	if summary.Created != 2 || summary.Capped != 3 || summary.Grants != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if f.notifications.count() != 2 {
		t.Errorf("expected 2 stored notifications, got %d", f.notifications.count())
	}
}

func TestProcessNewGrantsCapKeepsBestRanked(t *testing.T) {
	profile := solarProfile()
	f := newDispatcherFixture(shared.MatchingConfig{MaxNotificationsPerRun: 1}, profile)

	weak := solarGrant()
	weak.Title = "Solar Grant"
	strong := solarGrant()

	summary, err := f.dispatcher.ProcessNewGrants(context.Background(), []models.Grant{weak, strong})
	if err != nil {
		t.Fatalf("ProcessNewGrants failed: %v", err)
	}
	if summary.Matched != 2 || summary.Created != 1 || summary.Capped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	exists, _ := f.notifications.Exists(context.Background(), profile.ID, strong.ID, models.ChannelEmail)
	if !exists {
		t.Error("expected the higher scoring grant to be notified")
	}
	exists, _ = f.notifications.Exists(context.Background(), profile.ID, weak.ID, models.ChannelEmail)
	if exists {
		t.Error("lower scoring grant must be capped")
	}
}

func TestProcessNewGrantsCapSkipsAlreadyNotified(t *testing.T) {
	profile := solarProfile()
	f := newDispatcherFixture(shared.MatchingConfig{MaxNotificationsPerRun: 1}, profile)

	weak := solarGrant()
	weak.Title = "Solar Grant"
	strong := solarGrant()
	if _, err := f.dispatcher.ProcessNewGrant(context.Background(), &strong); err != nil {
		t.Fatal(err)
	}

	summary, err := f.dispatcher.ProcessNewGrants(context.Background(), []models.Grant{weak, strong})
	if err != nil {
		t.Fatalf("ProcessNewGrants failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Created != 1 || summary.Capped != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	exists, _ := f.notifications.Exists(context.Background(), profile.ID, weak.ID, models.ChannelEmail)
	if !exists {
		t.Error("expected the next ranked grant once the best one was already notified")
	}
}

func TestProcessNewGrantsContinuesAfterInvalidGrant(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, solarProfile())
	bad := solarGrant()
	bad.Amount = amount(-5)

	summary, err := f.dispatcher.ProcessNewGrants(context.Background(), []models.Grant{bad, solarGrant()})
	if !shared.HasCode(err, shared.CodeInvalidGrant) {
		t.Fatalf("expected INVALID_GRANT in the joined error, got %v", err)
	}
	if summary.Created != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRecordDeliveryResult(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{}, bothChannels(solarProfile()))
	grant := solarGrant()
	created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
	if err != nil || len(created) != 2 {
		t.Fatalf("setup: created %d, err %v", len(created), err)
	}

	sent, failed := created[0].ID, created[1].ID
	if err := f.dispatcher.RecordDeliveryResult(context.Background(), sent, nil); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := f.dispatcher.RecordDeliveryResult(context.Background(), failed, errors.New("smtp: 550 mailbox unavailable")); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	if n := f.notifications.get(sent); n.Status != models.NotificationSent || n.SentAt == nil {
		t.Errorf("expected sent with timestamp, got %+v", n)
	}
	if n := f.notifications.get(failed); n.Status != models.NotificationFailed || n.Error == nil || *n.Error != "smtp: 550 mailbox unavailable" {
		t.Errorf("expected failed with reason, got %+v", n)
	}

	// final statuses do not change
	if err := f.dispatcher.RecordDeliveryResult(context.Background(), sent, errors.New("late failure")); err != nil {
		t.Fatalf("late result must be ignored, got %v", err)
	}
	if n := f.notifications.get(sent); n.Status != models.NotificationSent {
		t.Errorf("sent notification changed to %s", n.Status)
	}

	if err := f.dispatcher.RecordDeliveryResult(context.Background(), uuid.New(), nil); !shared.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND for unknown notification, got %v", err)
	}
}

func TestGetRecentForUser(t *testing.T) {
	profile := solarProfile()
	f := newDispatcherFixture(shared.MatchingConfig{}, profile)
	for i := 0; i < 3; i++ {
		grant := solarGrant()
		if _, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	recent, err := f.dispatcher.GetRecentForUser(context.Background(), profile.UserID, 2)
	if err != nil {
		t.Fatalf("GetRecentForUser failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(recent))
	}

	if _, err := f.dispatcher.GetRecentForUser(context.Background(), uuid.New(), 2); !shared.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if _, err := f.dispatcher.GetRecentForProfile(context.Background(), profile.ID, 0); err != nil {
		t.Fatalf("GetRecentForProfile failed: %v", err)
	}
}

func TestNormalizePageLimit(t *testing.T) {
	f := newDispatcherFixture(shared.MatchingConfig{})
	cases := map[int]int{0: 20, -1: 20, 5: 5, 100: 100, 101: 100}
	for in, want := range cases {
		if got := f.dispatcher.NormalizePageLimit(in); got != want {
			t.Errorf("NormalizePageLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestDispatchProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("repeated dispatch never creates a second notification per triple", prop.ForAll(
		func(profiles, runs int) bool {
			list := make([]models.UserProfile, profiles)
			for i := range list {
				list[i] = bothChannels(solarProfile())
			}
			f := newDispatcherFixture(shared.MatchingConfig{}, list...)
			grant := solarGrant()

			total := 0
			for r := 0; r < runs; r++ {
				created, err := f.dispatcher.ProcessNewGrant(context.Background(), &grant)
				if err != nil {
					return false
				}
				total += len(created)
			}
			return total == 2*profiles && f.notifications.count() == 2*profiles
		},
		gen.IntRange(0, 8),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
