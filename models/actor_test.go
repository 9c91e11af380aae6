package models_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/mmdatafocus/stockcount_backend/models/countingtest"
)

func TestActorContextRoundTrip(t *testing.T) {
	if _, ok := models.ActorFromContext(context.Background()); ok {
		t.Fatalf("actor found in an empty context")
	}
	want := models.Actor{BusinessId: "biz-1", UserId: 7, UserName: "Aye", Role: models.UserRoleCounter}
	got, ok := models.ActorFromContext(models.WithActor(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("round trip: got %+v ok=%v", got, ok)
	}
}

func TestActorContextScopesQueriesToTenant(t *testing.T) {
	f := countingtest.New(t)
	session := f.CreateSession(t, f.SessionInput())

	var own []models.CountingSession
	if err := f.DB.WithContext(models.WithActor(context.Background(), f.Admin)).Find(&own).Error; err != nil {
		t.Fatalf("own tenant: %v", err)
	}
	if len(own) != 1 || own[0].ID != session.ID {
		t.Fatalf("own tenant sessions: %+v", own)
	}

	stranger := f.Admin
	stranger.BusinessId = "another-business"
	var foreign []models.CountingSession
	if err := f.DB.WithContext(models.WithActor(context.Background(), stranger)).Find(&foreign).Error; err != nil {
		t.Fatalf("other tenant: %v", err)
	}
	if len(foreign) != 0 {
		t.Fatalf("sessions leaked across tenants: %d", len(foreign))
	}
}
