package jobs

import (
	"context"
	"testing"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
)

type stubDispatcher struct {
	ids []uuid.UUID
	err error
}

func (d *stubDispatcher) ProcessGrantByID(ctx context.Context, grantID uuid.UUID) ([]models.Notification, error) {
	d.ids = append(d.ids, grantID)
	return nil, d.err
}

type stubInvalidator struct {
	count int
}

func (c *stubInvalidator) Invalidate() { c.count++ }

func TestHandlePayload(t *testing.T) {
	dispatcher := &stubDispatcher{}
	cache := &stubInvalidator{}
	listener := NewGrantIngestListener(nil, "grants", dispatcher, cache)

	id := uuid.New()
	listener.HandlePayload(context.Background(), `{"grant_id":"`+id.String()+`"}`)

	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != id {
		t.Fatalf("expected dispatch of %s, got %v", id, dispatcher.ids)
	}
	if cache.count != 1 {
		t.Errorf("expected cache invalidation, got %d", cache.count)
	}
}

func TestHandlePayloadIgnoresMalformed(t *testing.T) {
	dispatcher := &stubDispatcher{}
	cache := &stubInvalidator{}
	listener := NewGrantIngestListener(nil, "grants", dispatcher, cache)

	for _, payload := range []string{"", "not json", `{"grant_id":"nope"}`, `{}`, `{"grant_id":"00000000-0000-0000-0000-000000000000"}`} {
		listener.HandlePayload(context.Background(), payload)
	}
	if len(dispatcher.ids) != 0 || cache.count != 0 {
		t.Fatalf("malformed payloads must be ignored, dispatched %d, invalidated %d", len(dispatcher.ids), cache.count)
	}
}

func TestHandlePayloadSurvivesDispatchErrors(t *testing.T) {
	dispatcher := &stubDispatcher{err: shared.NewNotFoundError("grant", "x", "test", "get")}
	listener := NewGrantIngestListener(nil, "grants", dispatcher, nil)

	listener.HandlePayload(context.Background(), `{"grant_id":"`+uuid.NewString()+`"}`)
	listener.HandlePayload(context.Background(), `{"grant_id":"`+uuid.NewString()+`"}`)

	if len(dispatcher.ids) != 2 {
		t.Fatalf("expected both events to be handled, got %d", len(dispatcher.ids))
	}
}
