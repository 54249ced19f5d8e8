// Package archive periodically moves alert-log entries older than a
// retention window out of MongoDB into gzipped NDJSON objects in S3,
// pruning them from the hot collection once archived.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const cursorCollection = "archiveState"

// Archiver periodically moves old alert-log entries from MongoDB to
// gzipped NDJSON objects in S3, then deletes the archived documents.
type Archiver struct {
	db       *mongo.Database
	s3Client *s3.Client
	bucket   string
	prefix   string
	interval time.Duration
	maxAge   time.Duration
}

// New creates a new Archiver. The archiver is a no-op if bucket is empty.
func New(db *mongo.Database, s3Client *s3.Client, bucket, prefix string, intervalHours, afterHours int) *Archiver {
	return &Archiver{
		db:       db,
		s3Client: s3Client,
		bucket:   bucket,
		prefix:   prefix,
		interval: time.Duration(intervalHours) * time.Hour,
		maxAge:   time.Duration(afterHours) * time.Hour,
	}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
// A no-op (after one log line) if no bucket is configured.
func (a *Archiver) Run(ctx context.Context) {
	if a.bucket == "" {
		log.Println("alert archiver: no S3 bucket configured, archiver disabled")
		<-ctx.Done()
		return
	}

	log.Printf("alert archiver: bucket=%s prefix=%s interval=%v age=%v", a.bucket, a.prefix, a.interval, a.maxAge)

	a.cycle(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context) {
	cursor, err := a.loadCursor(ctx)
	if err != nil {
		log.Printf("alert archiver: load cursor: %v", err)
		return
	}

	cutoff := time.Now().Add(-a.maxAge)
	if !cursor.Before(cutoff) {
		return
	}

	entries, err := a.queryEntries(ctx, cursor, cutoff)
	if err != nil {
		log.Printf("alert archiver: query: %v", err)
		return
	}
	if len(entries) == 0 {
		a.saveCursor(ctx, cutoff)
		return
	}

	batches := groupByDay(entries)

	days := make([]string, 0, len(batches))
	for day := range batches {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		batch := batches[day]
		if err := a.writeBatch(ctx, day, batch); err != nil {
			log.Printf("alert archiver: write %s: %v", day, err)
			return
		}

		if err := a.deleteBatch(ctx, batch); err != nil {
			log.Printf("alert archiver: delete %s: %v", day, err)
			return
		}

		log.Printf("alert archiver: archived %d entries for %s", len(batch), day)
	}

	a.saveCursor(ctx, cutoff)
}

// alertLogDoc mirrors the MongoDB alertLog document.
type alertLogDoc struct {
	ID          bson.ObjectID `bson:"_id"`
	TxHash      string        `bson:"tx_hash"`
	ChatID      string        `bson:"chat_id"`
	Outcome     string        `bson:"outcome"`
	Reason      string        `bson:"reason,omitempty"`
	AttemptedAt time.Time     `bson:"attempted_at"`
}

func (a *Archiver) loadCursor(ctx context.Context) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	err := a.db.Collection(cursorCollection).FindOne(ctx, bson.M{"key": "archive_cursor"}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, t time.Time) {
	_, err := a.db.Collection(cursorCollection).UpdateOne(ctx,
		bson.M{"key": "archive_cursor"},
		bson.M{"$set": bson.M{
			"key":        "archive_cursor",
			"value_time": t,
			"updated_at": time.Now(),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		log.Printf("alert archiver: save cursor: %v", err)
	}
}

func (a *Archiver) queryEntries(ctx context.Context, from, to time.Time) ([]alertLogDoc, error) {
	filter := bson.M{
		"attempted_at": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "attempted_at", Value: 1}})

	cur, err := a.db.Collection("alertLog").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find alert log entries: %w", err)
	}
	defer cur.Close(ctx)

	var entries []alertLogDoc
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode alert log entries: %w", err)
	}
	return entries, nil
}

func groupByDay(entries []alertLogDoc) map[string][]alertLogDoc {
	batches := make(map[string][]alertLogDoc)
	for _, e := range entries {
		day := e.AttemptedAt.UTC().Format("2006/01/02")
		batches[day] = append(batches[day], e)
	}
	return batches
}

// writeBatch writes entries as gzipped NDJSON to
// s3://bucket/prefix/alerts/YYYY/MM/DD.jsonl.gz.
func (a *Archiver) writeBatch(ctx context.Context, day string, entries []alertLogDoc) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			gz.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close: %w", err)
	}

	key := fmt.Sprintf("%s/alerts/%s.jsonl.gz", a.prefix, day)
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) deleteBatch(ctx context.Context, entries []alertLogDoc) error {
	ids := make([]bson.ObjectID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	_, err := a.db.Collection("alertLog").DeleteMany(ctx, bson.M{
		"_id": bson.M{"$in": ids},
	})
	if err != nil {
		return fmt.Errorf("delete archived entries: %w", err)
	}
	return nil
}
