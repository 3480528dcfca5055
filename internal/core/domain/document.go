package domain

import "time"

type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusIndexing DocumentStatus = "indexing"
	StatusIndexed  DocumentStatus = "indexed"
	StatusFailed   DocumentStatus = "failed"
)

// Document is a unit of indexed text owned by exactly one session.
// Created at indexing time, never mutated, removed when the session clears.
type Document struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Group      string         `json:"group,omitempty"`
	SourceName string         `json:"source_name"`
	Text       string         `json:"-"`
	ChunkCount int            `json:"chunk_count"`
	Status     DocumentStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DocumentInput is the ingestion collaborator's payload: text already
// extracted, plus session scoping metadata.
type DocumentInput struct {
	SourceName string `json:"source_name"`
	Group      string `json:"group,omitempty"`
	Text       string `json:"text"`
}

// Chunk is the atomic retrieval unit. CharStart/CharEnd are rune offsets
// into the source document text; SequenceIndex is 0-based and monotonically
// increasing within a document.
type Chunk struct {
	ID            string `json:"id"`
	DocumentID    string `json:"document_id"`
	SessionID     string `json:"session_id"`
	Group         string `json:"group,omitempty"`
	SourceName    string `json:"source_name"`
	SequenceIndex int    `json:"sequence_index"`
	Text          string `json:"text"`
	CharStart     int    `json:"char_start"`
	CharEnd       int    `json:"char_end"`
}

// IndexReport is the per-batch result of an indexing call. A failed document
// does not abort the batch; it is reported here instead.
type IndexReport struct {
	SessionID     string          `json:"session_id"`
	ChunksIndexed int             `json:"chunks_indexed"`
	Errors        []DocumentError `json:"errors,omitempty"`
}

type DocumentError struct {
	SourceName string `json:"source_name"`
	DocumentID string `json:"document_id,omitempty"`
	Reason     string `json:"reason"`
}
