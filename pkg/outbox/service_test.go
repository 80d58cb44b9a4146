package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
	"github.com/agoralabs/mercado-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEmitStoresEnvelope(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)

	orderID := uuid.New()
	ownerID := uuid.New()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateCartOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{OwnerID: ownerID},
			Data:          map[string]string{"orderNumber": "MM-20260831-DEADBEEF"},
			Version:       1,
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var row models.OutboxEvent
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if row.EventType != enums.EventOrderPlaced {
		t.Fatalf("event type = %s, want %s", row.EventType, enums.EventOrderPlaced)
	}
	if row.AggregateID != orderID {
		t.Fatalf("aggregate id = %s, want %s", row.AggregateID, orderID)
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Version != 1 {
		t.Fatalf("version = %d, want 1", envelope.Version)
	}
	if envelope.EventID == "" {
		t.Fatal("expected event id")
	}
	if envelope.Actor == nil || envelope.Actor.OwnerID != ownerID {
		t.Fatalf("actor = %+v, want owner %s", envelope.Actor, ownerID)
	}
}

func TestEmitRequiresTransaction(t *testing.T) {
	t.Parallel()
	svc := NewService(NewRepository(newTestDB(t)), nil)
	if err := svc.Emit(context.Background(), nil, DomainEvent{}); err == nil {
		t.Fatal("expected error for nil transaction")
	}
}

func TestFetchUnpublishedSkipsPublished(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	var first, second uuid.UUID
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, id := range []*uuid.UUID{&first, &second} {
			*id = uuid.New()
			if err := svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventOrderPlaced,
				AggregateType: enums.AggregateCartOrder,
				AggregateID:   *id,
				Data:          map[string]string{},
				Version:       1,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublished(10, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unpublished = %d, want 2", len(rows))
	}

	if err := repo.MarkPublished(rows[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	rows, err = repo.FetchUnpublished(10, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unpublished after publish = %d, want 1", len(rows))
	}
}

func TestFetchUnpublishedHonorsAttemptBound(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	var eventID uuid.UUID
	err := db.Transaction(func(tx *gorm.DB) error {
		eventID = uuid.New()
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateCartOrder,
			AggregateID:   eventID,
			Data:          map[string]string{},
			Version:       1,
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublished(10, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unpublished = %d, want 1", len(rows))
	}

	for i := 0; i < 2; i++ {
		if err := repo.MarkFailed(rows[0].ID, errors.New("publish timeout")); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	rows, err = repo.FetchUnpublished(10, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("unpublished after exhausting attempts = %d, want 0", len(rows))
	}
}
