package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/viterin/vek/vek32"
)

// ErrRecordNotFound is returned by Index.Get for an unknown id.
var ErrRecordNotFound = errors.New("memory record not found")

// Index is the semantic store. Records live in the memory_records table,
// one collection per Index; embeddings are stored as JSON arrays and scored
// in Go since modernc.org/sqlite cannot load vector extensions.
type Index struct {
	db         *sql.DB
	collection string
	embedder   Embedder
	logger     *slog.Logger
}

// NewIndex returns an Index over db for collection. The memory_records
// table must exist (store.Open runs the migrations).
func NewIndex(db *sql.DB, collection string, embedder Embedder, logger *slog.Logger) *Index {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: db, collection: collection, embedder: embedder, logger: logger}
}

// Collection returns the collection name.
func (x *Index) Collection() string { return x.collection }

// Upsert embeds content and stores it under id, replacing any previous
// record with the same id. With a no-op embedder the record is stored
// without a vector and never matches a query. An embedder error stores
// nothing and wraps ErrRetrievalUnavailable.
func (x *Index) Upsert(ctx context.Context, id, content string, meta Metadata) error {
	vecs, err := x.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("%w: embed %s: %w", ErrRetrievalUnavailable, id, err)
	}
	var vec []float32
	if len(vecs) > 0 {
		vec = vecs[0]
	}
	if vec == nil {
		vec = []float32{}
	}

	embedding, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("memory: marshal embedding: %w", err)
	}

	_, err = x.db.ExecContext(ctx, `
		INSERT INTO memory_records
			(collection, id, channel_id, author, sent_at, document, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			channel_id = excluded.channel_id,
			author     = excluded.author,
			sent_at    = excluded.sent_at,
			document   = excluded.document,
			embedding  = excluded.embedding,
			updated_at = excluded.updated_at`,
		x.collection, id, meta.ChannelID, meta.Author,
		meta.Timestamp.UTC().Format(time.RFC3339Nano),
		content, string(embedding),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("memory: upsert %s: %w", id, err)
	}

	x.logger.Debug("memory upserted", "id", id, "channel", meta.ChannelID, "dims", len(vec))
	return nil
}

// QueryOption narrows a Query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	channelID string
}

// InChannel restricts a Query to records from one channel.
func InChannel(channelID string) QueryOption {
	return func(o *queryOptions) { o.channelID = channelID }
}

// Query returns up to k records ranked by cosine similarity to text,
// highest first; equal scores are ordered by id.
func (x *Index) Query(ctx context.Context, text string, k int, opts ...QueryOption) ([]Record, error) {
	if k <= 0 {
		return nil, nil
	}
	var o queryOptions
	for _, fn := range opts {
		fn(&o)
	}

	vecs, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrRetrievalUnavailable
	}
	query := vecs[0]
	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	q := `SELECT id, channel_id, author, sent_at, document, embedding
		FROM memory_records WHERE collection = ? AND embedding != '[]'`
	args := []any{x.collection}
	if o.channelID != "" {
		q += ` AND channel_id = ?`
		args = append(args, o.channelID)
	}

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query records: %w", err)
	}
	defer rows.Close()

	var scored []Record
	for rows.Next() {
		rec, vec, err := scanRecord(rows)
		if err != nil {
			x.logger.Warn("memory: skip malformed row", "err", err)
			continue
		}
		if len(vec) != len(query) {
			continue
		}
		n := norm(vec)
		if n == 0 {
			continue
		}
		rec.Score = float64(vek32.Dot(query, vec)) / (queryNorm * n)
		scored = append(scored, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate records: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Get returns the stored record with id.
func (x *Index) Get(ctx context.Context, id string) (Record, error) {
	row := x.db.QueryRowContext(ctx, `
		SELECT id, channel_id, author, sent_at, document, embedding
		FROM memory_records WHERE collection = ? AND id = ?`, x.collection, id)
	rec, _, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("memory: get %s: %w", id, err)
	}
	return rec, nil
}

// Count returns how many records the collection holds.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_records WHERE collection = ?`, x.collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, []float32, error) {
	var (
		rec       Record
		sentAt    string
		embedding string
	)
	if err := s.Scan(&rec.ID, &rec.Metadata.ChannelID, &rec.Metadata.Author, &sentAt, &rec.Document, &embedding); err != nil {
		return Record{}, nil, err
	}
	if sentAt != "" {
		t, err := time.Parse(time.RFC3339Nano, sentAt)
		if err != nil {
			return Record{}, nil, fmt.Errorf("parse sent_at of %s: %w", rec.ID, err)
		}
		rec.Metadata.Timestamp = t
	}
	var vec []float32
	if err := json.Unmarshal([]byte(embedding), &vec); err != nil {
		return Record{}, nil, fmt.Errorf("decode embedding of %s: %w", rec.ID, err)
	}
	return rec, vec, nil
}

func norm(v []float32) float64 {
	return math.Sqrt(float64(vek32.Dot(v, v)))
}
