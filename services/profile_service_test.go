package services

import (
	"context"
	"strings"
	"testing"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func boolPtr(v bool) *bool {
	return &v
}

func TestGetOrCreateForUser(t *testing.T) {
	store := newMemoryProfileStore()
	service := NewProfileService(store)
	userID := uuid.New()

	created, err := service.GetOrCreateForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetOrCreateForUser failed: %v", err)
	}
	if created.ID == uuid.Nil || created.UserID != userID {
		t.Fatalf("unexpected profile: %+v", created)
	}
	if len(created.EnabledChannels()) != 0 {
		t.Errorf("new profiles must have every channel off")
	}

	again, err := service.GetOrCreateForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if again.ID != created.ID || store.saves != 1 {
		t.Errorf("expected the stored profile to be reused, saves=%d", store.saves)
	}

	if _, err := service.GetOrCreateForUser(context.Background(), uuid.Nil); !shared.IsInvalidProfile(err) {
		t.Errorf("expected INVALID_PROFILE for nil user id, got %v", err)
	}
}

func TestUpdateForUserMergesFields(t *testing.T) {
	store := newMemoryProfileStore()
	service := NewProfileService(store)
	userID := uuid.New()

	var hooked *models.UserProfile
	service.OnUpdate(func(p *models.UserProfile) { hooked = p })

	keywords := []string{" solar ", "Solar", "", "energía  renovable"}
	regions := []string{"EU", "eu", " Madrid "}
	updated, err := service.UpdateForUser(context.Background(), userID, ProfileUpdate{
		Keywords:           &keywords,
		Regions:            &regions,
		MinAmount:          decimalPtr(1000),
		MaxAmount:          decimalPtr(5000),
		EmailNotifications: boolPtr(true),
		Email:              strPtr(" ana@example.com "),
	})
	if err != nil {
		t.Fatalf("UpdateForUser failed: %v", err)
	}

	if strings.Join(updated.Keywords, "|") != "solar|energía renovable" {
		t.Errorf("unexpected keywords %q", updated.Keywords)
	}
	if strings.Join(updated.Regions, "|") != "EU|Madrid" {
		t.Errorf("unexpected regions %q", updated.Regions)
	}
	if updated.Email == nil || *updated.Email != "ana@example.com" {
		t.Errorf("unexpected email %v", updated.Email)
	}
	if channels := updated.EnabledChannels(); len(channels) != 1 || channels[0] != models.ChannelEmail {
		t.Errorf("expected email channel enabled, got %v", channels)
	}
	if hooked == nil || hooked.ID != updated.ID {
		t.Error("update hook was not called")
	}

	// nil fields keep the stored values
	partial, err := service.UpdateForUser(context.Background(), userID, ProfileUpdate{TelegramNotifications: boolPtr(true)})
	if err != nil {
		t.Fatalf("partial update failed: %v", err)
	}
	if len(partial.Keywords) != 2 || !partial.MinAmount.Valid || partial.Email == nil {
		t.Errorf("partial update lost stored fields: %+v", partial)
	}
	if len(partial.EnabledChannels()) != 1 {
		t.Errorf("telegram without chat id must stay disabled, got %v", partial.EnabledChannels())
	}
}

func TestUpdateForUserValidation(t *testing.T) {
	cases := []struct {
		name   string
		update ProfileUpdate
	}{
		{"negative min", ProfileUpdate{MinAmount: decimalPtr(-1)}},
		{"negative max", ProfileUpdate{MaxAmount: decimalPtr(-1)}},
		{"inverted bounds", ProfileUpdate{MinAmount: decimalPtr(5000), MaxAmount: decimalPtr(1000)}},
		{"bad email", ProfileUpdate{Email: strPtr("not-an-address")}},
		{"email with display name", ProfileUpdate{Email: strPtr("Ana <ana@example.com>")}},
		{"long chat id", ProfileUpdate{TelegramChatID: strPtr(strings.Repeat("9", 65))}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryProfileStore()
			service := NewProfileService(store)

			_, err := service.UpdateForUser(context.Background(), uuid.New(), tc.update)
			if !shared.IsInvalidProfile(err) {
				t.Fatalf("expected INVALID_PROFILE, got %v", err)
			}
			// only the default profile was written
			if store.saves != 1 {
				t.Errorf("invalid update was stored, saves=%d", store.saves)
			}
		})
	}
}

func TestUpdateForUserStoreFailure(t *testing.T) {
	store := newMemoryProfileStore()
	store.err = errStorage
	service := NewProfileService(store)

	_, err := service.UpdateForUser(context.Background(), uuid.New(), ProfileUpdate{})
	if !shared.HasCode(err, shared.CodeServiceUnavailable) {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}

func TestEnabledChannelsRequireContact(t *testing.T) {
	p := models.UserProfile{
		EmailNotifications:    true,
		Email:                 strPtr("   "),
		TelegramNotifications: true,
		TelegramChatID:        strPtr("42"),
	}
	channels := p.EnabledChannels()
	if len(channels) != 1 || channels[0] != models.ChannelTelegram {
		t.Fatalf("expected only telegram, got %v", channels)
	}
	if p.Recipient(models.ChannelTelegram) != "42" {
		t.Errorf("unexpected recipient %q", p.Recipient(models.ChannelTelegram))
	}
}
