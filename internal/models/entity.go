package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityKind names one of the replicated entity collections.
type EntityKind string

const (
	KindOwnedRecord EntityKind = "owned_record"
	KindAttachment  EntityKind = "attachment"
	KindGlobal      EntityKind = "global"
	KindCatalog     EntityKind = "catalog"
)

// AllKinds lists every replicated kind in merge order. Owned records come
// before attachments so an attachment can reference a record pushed in the
// same batch.
var AllKinds = []EntityKind{KindOwnedRecord, KindAttachment, KindGlobal, KindCatalog}

func ParseEntityKind(s string) (EntityKind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// SyncMeta holds the fields every replicated entity carries.
//
// Version is the replication cursor and strictly increases on every
// mutation. UpdatedAt is only the last-writer-wins comparison input.
// Deleting flips IsDeleted; rows are never removed.
type SyncMeta struct {
	ID        uuid.UUID `json:"id"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Meta lets any entity embedding SyncMeta satisfy Syncable.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Syncable is implemented by pointers to every replicated entity type.
type Syncable interface {
	Meta() *SyncMeta
	Kind() EntityKind
}

// AgentScoped is implemented by entities that belong to one agent.
type AgentScoped interface {
	Owner() uuid.UUID
}

// OwnedRecord belongs to exactly one agent and is only replicated to that
// agent's devices.
type OwnedRecord struct {
	SyncMeta
	AgentID     uuid.UUID `json:"agentId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Data        string    `json:"data"`
}

func (*OwnedRecord) Kind() EntityKind { return KindOwnedRecord }
func (r *OwnedRecord) Owner() uuid.UUID { return r.AgentID }

// Attachment carries metadata for externally stored binary content. RecordID
// is optional and is cleared when it does not resolve to a stored record.
type Attachment struct {
	SyncMeta
	AgentID     uuid.UUID  `json:"agentId"`
	RecordID    *uuid.UUID `json:"recordId,omitempty"`
	FileName    string     `json:"fileName"`
	ContentType string     `json:"contentType"`
	FileSize    int64      `json:"fileSize"`
	BlobPath    string     `json:"blobPath"`
}

func (*Attachment) Kind() EntityKind { return KindAttachment }
func (a *Attachment) Owner() uuid.UUID { return a.AgentID }

// GlobalEntity is shared reference data visible to every agent, looked up by
// (Category, Key).
type GlobalEntity struct {
	SyncMeta
	Category    string `json:"category"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

func (*GlobalEntity) Kind() EntityKind { return KindGlobal }

// CatalogItem is published, mostly additive content delivered in pages.
// PublishedAt orders pages and display; it never takes part in merging.
type CatalogItem struct {
	SyncMeta
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Author           string    `json:"author"`
	ImageData        string    `json:"imageData"`
	ImageContentType string    `json:"imageContentType"`
	PublishedAt      time.Time `json:"publishedAt"`
}

func (*CatalogItem) Kind() EntityKind { return KindCatalog }

// CatalogKey is the stable page ordering key of a catalog item.
type CatalogKey struct {
	PublishedAt time.Time `json:"publishedAt"`
	ID          uuid.UUID `json:"id"`
}

// Less reports whether k sorts before other.
func (k CatalogKey) Less(other CatalogKey) bool {
	if !k.PublishedAt.Equal(other.PublishedAt) {
		return k.PublishedAt.Before(other.PublishedAt)
	}
	return bytes.Compare(k.ID[:], other.ID[:]) < 0
}

func (c *CatalogItem) OrderKey() CatalogKey {
	return CatalogKey{PublishedAt: c.PublishedAt, ID: c.ID}
}

// NewEntity returns an empty entity of the given kind.
func NewEntity(kind EntityKind) (Syncable, error) {
	switch kind {
	case KindOwnedRecord:
		return &OwnedRecord{}, nil
	case KindAttachment:
		return &Attachment{}, nil
	case KindGlobal:
		return &GlobalEntity{}, nil
	case KindCatalog:
		return &CatalogItem{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// NormalizeTime truncates to the precision the stores keep so that a value
// read back compares equal to the value written.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
