package domain

// SearchFilter narrows retrieval to an optional logical document group
// within the session.
type SearchFilter struct {
	Group string
}

// Candidate is a transient per-query scoring record. VectorScore and
// LexicalScore are normalized to [0,1]; a backend that did not return the
// chunk contributes 0. HybridScore is the configured weighted sum and
// depends on nothing but the two scores and the weights.
type Candidate struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	SourceName    string  `json:"source_name"`
	Group         string  `json:"group,omitempty"`
	SequenceIndex int     `json:"sequence_index"`
	Text          string  `json:"text"`
	VectorScore   float64 `json:"vector_score"`
	LexicalScore  float64 `json:"lexical_score"`
	HybridScore   float64 `json:"hybrid_score"`
}

// Citation points a consumer back at the chunk that backed part of an answer.
type Citation struct {
	SourceName string  `json:"source_name"`
	ChunkID    string  `json:"chunk_id"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

// Answer is the terminal result of one query. Degraded is true when only one
// retrieval backend contributed candidates.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	Degraded  bool       `json:"degraded"`
}
