package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Document statuses persisted through the ingestion pipeline.
const (
	DocStatusCreated    = "created"
	DocStatusExtracting = "extracting"
	DocStatusChunking   = "chunking"
	DocStatusEmbedding  = "embedding"
	DocStatusCaptioning = "captioning"
	DocStatusReady      = "ready"
	DocStatusFailed     = "failed"
)

// Discovered-link statuses.
const (
	LinkStatusDiscovered = "discovered"
	LinkStatusIngested   = "ingested"
	LinkStatusSkipped    = "skipped"
	LinkStatusFailed     = "failed"
)

// Chunk types stored in text_chunks.chunk_type.
const (
	ChunkTypeText         = "text"
	ChunkTypeTableSummary = "table_summary"
	ChunkTypeTableRow     = "table_row"
)

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
