package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xAleksandar/tonight-app-sub003/internal/models"
)

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch target := dest[i].(type) {
		case *int:
			*target = r.values[i].(int)
		case *string:
			*target = r.values[i].(string)
		case *bool:
			*target = r.values[i].(bool)
		case *time.Time:
			*target = r.values[i].(time.Time)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

type stubRows struct {
	pgx.Rows
	rows []stubRow
	idx  int
	err  error
}

func (r *stubRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return r.rows[r.idx-1].Scan(dest...)
}

func (r *stubRows) Err() error {
	return r.err
}

func (r *stubRows) Close() {}

type stubDBTX struct {
	queryRowFn func(ctx context.Context, query string, args ...any) stubRow
	queryFn    func(ctx context.Context, query string, args ...any) (*stubRows, error)
}

func (db *stubDBTX) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (db *stubDBTX) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if db.queryFn == nil {
		return nil, errors.New("unexpected Query call")
	}
	return db.queryFn(ctx, query, args...)
}

func (db *stubDBTX) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if db.queryRowFn == nil {
		return stubRow{err: errors.New("unexpected QueryRow call")}
	}
	return db.queryRowFn(ctx, query, args...)
}

var repoTestTime = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMessageRepositoryCreateRejectsEmptyContent(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{})

	for _, content := range []string{"", "   ", " \n\t "} {
		if _, err := repo.Create(context.Background(), "jr-1", "p1", content); !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("content %q: expected ErrEmptyContent, got %v", content, err)
		}
	}
}

func TestMessageRepositoryCreateRejectsContentOverLimit(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{})

	if _, err := repo.Create(context.Background(), "jr-1", "p1", strings.Repeat("a", MaxContentRunes+1)); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}

	// Length is measured in runes, not bytes.
	if _, err := repo.Create(context.Background(), "jr-1", "p1", strings.Repeat("é", MaxContentRunes+1)); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong for multibyte content, got %v", err)
	}
}

func TestMessageRepositoryCreateAcceptsContentAtLimit(t *testing.T) {
	content := strings.Repeat("é", MaxContentRunes)
	var gotArgs []any

	repo := NewMessageRepository(&stubDBTX{
		queryRowFn: func(_ context.Context, _ string, args ...any) stubRow {
			gotArgs = args
			return stubRow{values: []any{args[0].(string), "jr-1", "p1", content, repoTestTime}}
		},
	})

	message, err := repo.Create(context.Background(), "jr-1", "p1", content)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if message.Content != content {
		t.Fatalf("unexpected content round-trip: %d runes", len(message.Content))
	}
	if len(gotArgs) != 4 {
		t.Fatalf("expected 4 insert args, got %d", len(gotArgs))
	}
	if _, err := uuid.Parse(gotArgs[0].(string)); err != nil {
		t.Fatalf("expected uuid message id, got %q", gotArgs[0])
	}
}

func TestMessageRepositoryCreateTrimsContent(t *testing.T) {
	var persisted string

	repo := NewMessageRepository(&stubDBTX{
		queryRowFn: func(_ context.Context, _ string, args ...any) stubRow {
			persisted = args[3].(string)
			return stubRow{values: []any{args[0].(string), "jr-1", "h1", persisted, repoTestTime}}
		},
	})

	message, err := repo.Create(context.Background(), "jr-1", "h1", "  see you at nine  ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if persisted != "see you at nine" {
		t.Fatalf("expected trimmed content persisted, got %q", persisted)
	}
	if message.Content != "see you at nine" {
		t.Fatalf("expected trimmed content returned, got %q", message.Content)
	}
}

func TestMessageRepositoryMarkReadReturnsNewReceipts(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{
		queryFn: func(_ context.Context, query string, args ...any) (*stubRows, error) {
			if !strings.Contains(query, "ON CONFLICT (message_id, reader_id) DO NOTHING") {
				t.Fatalf("mark read insert must tolerate duplicate receipts, got query: %s", query)
			}
			if args[0] != "jr-1" || args[1] != "h1" {
				t.Fatalf("unexpected args: %v", args)
			}
			return &stubRows{rows: []stubRow{
				{values: []any{"m1", "h1", repoTestTime}},
				{values: []any{"m2", "h1", repoTestTime.Add(time.Millisecond)}},
			}}, nil
		},
	})

	receipts, err := repo.MarkRead(context.Background(), "jr-1", "h1")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected 2 new receipts, got %d", len(receipts))
	}
	if receipts[0].MessageID != "m1" || receipts[0].ReaderID != "h1" {
		t.Fatalf("unexpected receipt: %+v", receipts[0])
	}
}

func TestMessageRepositoryMarkReadWithNothingNewReturnsEmpty(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{
		queryFn: func(_ context.Context, _ string, _ ...any) (*stubRows, error) {
			return &stubRows{}, nil
		},
	})

	receipts, err := repo.MarkRead(context.Background(), "jr-1", "h1")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(receipts) != 0 {
		t.Fatalf("expected no receipts, got %d", len(receipts))
	}
}

func TestMessageRepositoryListOrdersOldestFirst(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{
		queryFn: func(_ context.Context, query string, _ ...any) (*stubRows, error) {
			if !strings.Contains(query, "ORDER BY created_at ASC, seq ASC") {
				t.Fatalf("list must order by created_at with seq tiebreak, got query: %s", query)
			}
			return &stubRows{rows: []stubRow{
				{values: []any{"m1", "jr-1", "p1", "hello", repoTestTime}},
				{values: []any{"m2", "jr-1", "h1", "hey", repoTestTime.Add(time.Second)}},
			}}, nil
		},
	})

	messages, err := repo.ListByConversation(context.Background(), "jr-1")
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestMessageRepositoryAttachReceiptsGroupsByMessage(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{
		queryFn: func(_ context.Context, _ string, args ...any) (*stubRows, error) {
			ids := args[0].([]string)
			if len(ids) != 2 {
				t.Fatalf("expected 2 message ids, got %v", ids)
			}
			return &stubRows{rows: []stubRow{
				{values: []any{"m1", "h1", repoTestTime}},
				{values: []any{"m1", "p2", repoTestTime.Add(time.Minute)}},
			}}, nil
		},
	})

	messages, err := repo.AttachReceipts(context.Background(), []models.Message{{ID: "m1"}, {ID: "m2"}})
	if err != nil {
		t.Fatalf("AttachReceipts: %v", err)
	}
	if len(messages[0].ReadBy) != 2 {
		t.Fatalf("expected 2 receipts on m1, got %d", len(messages[0].ReadBy))
	}
	if messages[1].ReadBy != nil {
		t.Fatalf("expected no receipts on m2, got %+v", messages[1].ReadBy)
	}
}

func TestMessageRepositoryAttachReceiptsSkipsQueryForNoMessages(t *testing.T) {
	repo := NewMessageRepository(&stubDBTX{})

	messages, err := repo.AttachReceipts(context.Background(), nil)
	if err != nil {
		t.Fatalf("AttachReceipts: %v", err)
	}
	if messages != nil {
		t.Fatalf("expected nil passthrough, got %+v", messages)
	}
}
