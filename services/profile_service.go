package services

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	profileServiceName   = "profile-service"
	maxTelegramChatIDLen = 64
)

// ProfileUpdate carries the fields a user may change. Nil fields keep the
// stored value.
type ProfileUpdate struct {
	Keywords              *[]string        `json:"keywords"`
	MinAmount             *decimal.Decimal `json:"min_amount"`
	MaxAmount             *decimal.Decimal `json:"max_amount"`
	Regions               *[]string        `json:"regions"`
	EmailNotifications    *bool            `json:"email_notifications"`
	TelegramNotifications *bool            `json:"telegram_notifications"`
	Email                 *string          `json:"email"`
	TelegramChatID        *string          `json:"telegram_chat_id"`
}

// ProfileService is the write boundary for matching profiles. Everything
// the engine later assumes about a profile is enforced here.
type ProfileService struct {
	store ProfileStore
	text  *UtilityService

	// called after a successful update, e.g. to drop cached recommendations
	onUpdate func(profile *models.UserProfile)
}

func NewProfileService(store ProfileStore) *ProfileService {
	return &ProfileService{
		store: store,
		text:  NewUtilityService(),
	}
}

// OnUpdate registers a hook run after every successful update
func (s *ProfileService) OnUpdate(fn func(profile *models.UserProfile)) {
	s.onUpdate = fn
}

// GetOrCreateForUser returns the user's profile, creating an empty one with
// all channels off on first access
func (s *ProfileService) GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if userID == uuid.Nil {
		return nil, shared.NewInvalidProfileError("user id is required", profileServiceName, "get_or_create")
	}

	profile, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, profileServiceName, "get_or_create", true)
	}
	if profile != nil {
		return profile, nil
	}

	profile = &models.UserProfile{
		UserID:   userID,
		Keywords: []string{},
		Regions:  []string{},
	}
	if err := s.store.Save(ctx, profile); err != nil {
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, profileServiceName, "create_default", true)
	}

	logrus.WithFields(logrus.Fields{
		"component":  "ProfileService",
		"user_id":    userID,
		"profile_id": profile.ID,
	}).Info("Created default profile")
	return profile, nil
}

// UpdateForUser merges update into the user's profile and stores it.
// Negative or inverted amount bounds, malformed e-mail addresses and
// oversized chat ids are rejected with an InvalidProfileError.
func (s *ProfileService) UpdateForUser(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*models.UserProfile, error) {
	profile, err := s.GetOrCreateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := *profile
	s.merge(&merged, update)
	if err := ValidateProfile(&merged); err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, &merged); err != nil {
		if shared.IsInvalidProfile(err) {
			return nil, err
		}
		return nil, shared.WrapError(err, shared.ErrorCategoryDatabase, shared.CodeServiceUnavailable, profileServiceName, "update", true)
	}

	if s.onUpdate != nil {
		s.onUpdate(&merged)
	}

	logrus.WithFields(logrus.Fields{
		"component":  "ProfileService",
		"user_id":    userID,
		"profile_id": merged.ID,
		"keywords":   len(merged.Keywords),
		"regions":    len(merged.Regions),
		"channels":   merged.EnabledChannels(),
	}).Info("Profile updated")
	return &merged, nil
}

func (s *ProfileService) merge(p *models.UserProfile, update ProfileUpdate) {
	if update.Keywords != nil {
		p.Keywords = s.text.CleanList(*update.Keywords)
	}
	if update.Regions != nil {
		p.Regions = s.text.CleanList(*update.Regions)
	}
	if update.MinAmount != nil {
		p.MinAmount = decimal.NewNullDecimal(*update.MinAmount)
	}
	if update.MaxAmount != nil {
		p.MaxAmount = decimal.NewNullDecimal(*update.MaxAmount)
	}
	if update.EmailNotifications != nil {
		p.EmailNotifications = *update.EmailNotifications
	}
	if update.TelegramNotifications != nil {
		p.TelegramNotifications = *update.TelegramNotifications
	}
	if update.Email != nil {
		p.Email = optionalString(*update.Email)
	}
	if update.TelegramChatID != nil {
		p.TelegramChatID = optionalString(*update.TelegramChatID)
	}
	p.UpdatedAt = time.Now().UTC()
}

// ValidateProfile checks the invariants the match engine relies on
func ValidateProfile(p *models.UserProfile) error {
	if p.MinAmount.Valid && p.MinAmount.Decimal.IsNegative() {
		return shared.NewInvalidProfileError("min_amount must not be negative", profileServiceName, "validate")
	}
	if p.MaxAmount.Valid && p.MaxAmount.Decimal.IsNegative() {
		return shared.NewInvalidProfileError("max_amount must not be negative", profileServiceName, "validate")
	}
	if p.MinAmount.Valid && p.MaxAmount.Valid && p.MinAmount.Decimal.GreaterThan(p.MaxAmount.Decimal) {
		return shared.NewInvalidProfileError(
			"min_amount "+p.MinAmount.Decimal.String()+" is greater than max_amount "+p.MaxAmount.Decimal.String(),
			profileServiceName, "validate")
	}
	if p.Email != nil {
		addr, err := mail.ParseAddress(*p.Email)
		if err != nil || addr.Address != *p.Email {
			return shared.NewInvalidProfileError("email is not a valid address", profileServiceName, "validate")
		}
	}
	if p.TelegramChatID != nil && len(*p.TelegramChatID) > maxTelegramChatIDLen {
		return shared.NewInvalidProfileError("telegram_chat_id is longer than 64 characters", profileServiceName, "validate")
	}
	return nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
