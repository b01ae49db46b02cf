package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ghalamif/PulseFlow/internal/domain"
	"github.com/ghalamif/PulseFlow/internal/ports"
)

// TimescaleSubscriber archives every delivered frame into a hypertable.
// The table is expected to carry a unique key on (source_id, sequence, received_at).
type TimescaleSubscriber struct {
	db        *sql.DB
	tableName string
}

// NewTimescaleSubscriber does not take ownership of db.
func NewTimescaleSubscriber(db *sql.DB, table string) *TimescaleSubscriber {
	return &TimescaleSubscriber{db: db, tableName: table}
}

func (t *TimescaleSubscriber) ID() string { return "timescaledb" }

func (t *TimescaleSubscriber) Deliver(ctx context.Context, f *domain.Frame) error {
	return t.WriteBatch(ctx, []*domain.Frame{f})
}

// WriteBatch inserts frames in one statement. Rows already archived are skipped.
func (t *TimescaleSubscriber) WriteBatch(ctx context.Context, frames []*domain.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (source_id, sequence, sent_at, received_at, latency_ms, fields) VALUES ")

	args := make([]any, 0, len(frames)*6)
	for i, f := range frames {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		fields, err := json.Marshal(f.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}

		args = append(args,
			f.SourceID,
			f.Sequence,
			time.UnixMilli(f.SentAtMs).UTC(),
			time.UnixMilli(f.ReceivedAtMs).UTC(),
			f.LatencyMs,
			fields,
		)
	}

	b.WriteString(" ON CONFLICT (source_id, sequence, received_at) DO NOTHING")

	if _, err := t.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("timescale insert: %w", err)
	}
	return nil
}

func (t *TimescaleSubscriber) Close() error { return nil }

var _ ports.Subscriber = (*TimescaleSubscriber)(nil)
