package webhook_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/internal/entity"
	"github.com/hookline/hookline/store/memory"
	"github.com/hookline/hookline/webhook"
)

func ctx() context.Context { return context.Background() }

func newTestService() (*webhook.Service, *memory.Store) {
	s := memory.New()
	return webhook.NewService(s, nil), s
}

func validInput() webhook.Input {
	return webhook.Input{
		OwnerID: "user_1",
		URL:     "https://example.com/hooks",
		Events:  []string{"order.created", "order.cancelled"},
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService()

	wh, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	if !wh.Active {
		t.Error("new webhooks start active")
	}
	if !wh.SubscribedTo("order.created") {
		t.Error("expected subscription to order.created")
	}
	if wh.SubscribedTo("order.updated") {
		t.Error("unexpected subscription to order.updated")
	}
}

func TestCreateGeneratesSecret(t *testing.T) {
	svc, _ := newTestService()

	wh, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(wh.Secret, "whsec_") {
		t.Errorf("expected generated secret with whsec_ prefix, got %q", wh.Secret)
	}
	if len(wh.Secret) != 70 {
		t.Errorf("expected secret length 70, got %d", len(wh.Secret))
	}
}

func TestCreateKeepsProvidedSecret(t *testing.T) {
	svc, _ := newTestService()

	in := validInput()
	in.Secret = "whsec_caller_supplied"

	wh, err := svc.Create(ctx(), in)
	if err != nil {
		t.Fatal(err)
	}
	if wh.Secret != "whsec_caller_supplied" {
		t.Errorf("Secret = %q, want caller-supplied value", wh.Secret)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name   string
		mutate func(*webhook.Input)
		field  string
	}{
		{"invalid URL", func(in *webhook.Input) { in.URL = "not a url" }, "url"},
		{"empty owner", func(in *webhook.Input) { in.OwnerID = "" }, "owner_id"},
		{"empty events", func(in *webhook.Input) { in.Events = nil }, "events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, err := svc.Create(ctx(), in)
			var verr *webhook.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService()

	wh, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Update(ctx(), wh.ID, webhook.Input{
		URL:    "https://example.com/hooks/v2",
		Events: []string{"payment.settled"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if updated.URL != "https://example.com/hooks/v2" {
		t.Errorf("URL = %q", updated.URL)
	}
	if len(updated.Events) != 1 || updated.Events[0] != "payment.settled" {
		t.Errorf("Events = %v", updated.Events)
	}
	// Untouched fields survive.
	if updated.OwnerID != "user_1" {
		t.Errorf("OwnerID = %q", updated.OwnerID)
	}

	if _, err := svc.Update(ctx(), wh.ID, webhook.Input{URL: "::bad::"}); err == nil {
		t.Error("expected invalid URL to be rejected")
	}
}

func TestSetActive(t *testing.T) {
	svc, s := newTestService()

	wh, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.SetActive(ctx(), wh.ID, false); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetWebhook(ctx(), wh.ID)
	if got.Active {
		t.Error("expected webhook to be deactivated")
	}

	if err := svc.SetActive(ctx(), wh.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetWebhook(ctx(), wh.ID)
	if !got.Active {
		t.Error("expected webhook to be reactivated")
	}
}

func TestSetActiveRejectsEmptyEventSet(t *testing.T) {
	svc, s := newTestService()

	// Seed an inactive webhook with no subscriptions directly; the
	// service never produces one, but stored data may predate validation.
	wh := &webhook.Webhook{
		Entity:  entity.New(),
		ID:      id.NewWebhookID(),
		OwnerID: "user_1",
		URL:     "https://example.com/hooks",
		Active:  false,
	}
	if err := s.CreateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}

	err := svc.SetActive(ctx(), wh.ID, true)
	var verr *webhook.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Deactivating it stays allowed.
	if err := svc.SetActive(ctx(), wh.ID, false); err != nil {
		t.Fatal(err)
	}
}

func TestRotateSecret(t *testing.T) {
	svc, s := newTestService()

	wh, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.RotateSecret(ctx(), wh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated == wh.Secret {
		t.Error("expected rotation to produce a new secret")
	}

	got, _ := s.GetWebhook(ctx(), wh.ID)
	if got.Secret != rotated {
		t.Error("rotated secret was not persisted")
	}
}

func TestList(t *testing.T) {
	svc, _ := newTestService()

	for range 3 {
		if _, err := svc.Create(ctx(), validInput()); err != nil {
			t.Fatal(err)
		}
	}
	other := validInput()
	other.OwnerID = "user_2"
	if _, err := svc.Create(ctx(), other); err != nil {
		t.Fatal(err)
	}

	mine, err := svc.List(ctx(), "user_1", webhook.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 3 {
		t.Fatalf("expected 3 webhooks for user_1, got %d", len(mine))
	}

	page, err := svc.List(ctx(), "user_1", webhook.ListOpts{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 webhook page, got %d", len(page))
	}
}
