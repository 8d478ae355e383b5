package contracts

import "time"

// EvidenceItem holds one piece of untrusted content (a scraped page, an
// email body, a document). The raw content never leaves the evidence
// store except through an integrity-checked fetch.
type EvidenceItem struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Source      string    `json:"source"`
	ContentType string    `json:"content_type"`
	Hash        string    `json:"hash"`
	AddedAt     time.Time `json:"added_at"`
}

// EvidenceRef is the only representation of an item that consumers see.
// It deliberately has no content field: references are safe to place in
// model prompts, raw content is not.
type EvidenceRef struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`
}

// Ref derives the opaque reference for an item.
func (e *EvidenceItem) Ref() EvidenceRef {
	return EvidenceRef{
		ID:          e.ID,
		Source:      e.Source,
		ContentType: e.ContentType,
		Hash:        e.Hash,
	}
}

// EvidenceBundle is a per-session, append-only collection of items.
type EvidenceBundle struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	Items     []EvidenceItem `json:"items"`
}
