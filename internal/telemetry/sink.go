package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

// SpanRow is the GORM-persisted row for one Span (spec's persistent
// telemetry store, ambient alongside the OTLP exporter).
type SpanRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TraceID    string `gorm:"index;size:64"`
	SpanID     string `gorm:"size:64"`
	Name       string `gorm:"size:255"`
	StartTime  time.Time
	EndTime    time.Time
	Attributes string `gorm:"type:text"` // JSON-encoded map[string]string
}

func (SpanRow) TableName() string { return "gateway_telemetry_spans" }

// GormSink persists spans to a relational store via GORM.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink { return &GormSink{db: db} }

func (s *GormSink) Persist(ctx context.Context, spans []Span) error {
	rows := make([]SpanRow, 0, len(spans))
	for _, sp := range spans {
		rows = append(rows, SpanRow{
			TraceID:    sp.TraceID,
			SpanID:     sp.SpanID,
			Name:       sp.Name,
			StartTime:  sp.StartTime,
			EndTime:    sp.EndTime,
			Attributes: encodeAttrs(sp.Attributes),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// MongoSink persists spans to a Mongo collection, for deployments that
// prefer a document store for high-volume trace data over a relational
// one.
type MongoSink struct {
	collection *mongo.Collection
}

func NewMongoSink(collection *mongo.Collection) *MongoSink {
	return &MongoSink{collection: collection}
}

type mongoSpanDoc struct {
	TraceID    string            `bson:"trace_id"`
	SpanID     string            `bson:"span_id"`
	Name       string            `bson:"name"`
	StartTime  time.Time         `bson:"start_time"`
	EndTime    time.Time         `bson:"end_time"`
	Attributes map[string]string `bson:"attributes"`
}

func (s *MongoSink) Persist(ctx context.Context, spans []Span) error {
	if len(spans) == 0 {
		return nil
	}
	docs := make([]any, 0, len(spans))
	for _, sp := range spans {
		docs = append(docs, mongoSpanDoc{
			TraceID:    sp.TraceID,
			SpanID:     sp.SpanID,
			Name:       sp.Name,
			StartTime:  sp.StartTime,
			EndTime:    sp.EndTime,
			Attributes: sp.Attributes,
		})
	}
	_, err := s.collection.InsertMany(ctx, docs)
	return err
}

func encodeAttrs(attrs map[string]string) string {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
