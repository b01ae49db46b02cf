package sink

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/PulseFlow/internal/domain"
)

func TestTimescaleSubscriberDeliver(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sub := NewTimescaleSubscriber(db, "pulse_frames")
	frame := &domain.Frame{
		SourceID:     "patient-1",
		Sequence:     7,
		SentAtMs:     1_700_000_000_000,
		ReceivedAtMs: 1_700_000_000_040,
		LatencyMs:    40,
		Fields:       map[string]float64{"hr": 72},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO pulse_frames (source_id, sequence, sent_at, received_at, latency_ms, fields) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (source_id, sequence, received_at) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("patient-1", int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(40), []byte(`{"hr":72}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sub.Deliver(context.Background(), frame); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSubscriberWriteBatchPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sub := NewTimescaleSubscriber(db, "pulse_frames")
	frames := []*domain.Frame{
		{SourceID: "a", Sequence: 1},
		{SourceID: "b", Sequence: 2},
	}

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12) ON CONFLICT")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := sub.WriteBatch(context.Background(), frames); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSubscriberWriteBatchNoFrames(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sub := NewTimescaleSubscriber(db, "pulse_frames")
	if err := sub.WriteBatch(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSubscriberSurfacesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	boom := errors.New("connection refused")
	mock.ExpectExec("INSERT INTO pulse_frames").WillReturnError(boom)

	sub := NewTimescaleSubscriber(db, "pulse_frames")
	if err := sub.Deliver(context.Background(), &domain.Frame{SourceID: "a"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestTimescaleSubscriberID(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	sub := NewTimescaleSubscriber(db, "pulse_frames")
	if sub.ID() != "timescaledb" {
		t.Fatalf("expected subscriber id timescaledb, got %s", sub.ID())
	}
}
