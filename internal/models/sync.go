package models

import "github.com/google/uuid"

// SyncRequest is one push+pull exchange of a sync round. Pages after the
// first carry no pushes and repeat the watermark of the first page.
type SyncRequest struct {
	AgentID            uuid.UUID       `json:"agentId"`
	DeviceID           string          `json:"deviceId"`
	LastSyncVersion    int64           `json:"lastSyncVersion"`
	PageSize           int             `json:"pageSize"`
	PageNumber         int             `json:"pageNumber"`
	PushedOwnedRecords []*OwnedRecord  `json:"pushedOwnedRecords"`
	PushedAttachments  []*Attachment   `json:"pushedAttachments"`
	PushedGlobalData   []*GlobalEntity `json:"pushedGlobalData"`
	PushedCatalogItems []*CatalogItem  `json:"pushedCatalogItems"`
}

// PushCount is the number of entities pushed in the request.
func (r *SyncRequest) PushCount() int {
	return len(r.PushedOwnedRecords) + len(r.PushedAttachments) +
		len(r.PushedGlobalData) + len(r.PushedCatalogItems)
}

type SyncResponse struct {
	CurrentVersion      int64           `json:"currentVersion"`
	UpdatedOwnedRecords []*OwnedRecord  `json:"updatedOwnedRecords"`
	UpdatedAttachments  []*Attachment   `json:"updatedAttachments"`
	UpdatedGlobalData   []*GlobalEntity `json:"updatedGlobalData"`
	UpdatedCatalogItems []*CatalogItem  `json:"updatedCatalogItems"`
	TotalCatalogItems   int             `json:"totalCatalogItems"`
	CurrentPage         int             `json:"currentPage"`
	TotalPages          int             `json:"totalPages"`
	HasMoreCatalogItems bool            `json:"hasMoreCatalogItems"`
	Success             bool            `json:"success"`
	Message             string          `json:"message"`
	Rejected            []Rejection     `json:"rejected,omitempty"`
}

// PullCount is the number of entities delivered in the response.
func (r *SyncResponse) PullCount() int {
	return len(r.UpdatedOwnedRecords) + len(r.UpdatedAttachments) +
		len(r.UpdatedGlobalData) + len(r.UpdatedCatalogItems)
}

// Rejection reports a pushed entity that was not stored because it
// referenced an agent that does not exist or is inactive.
type Rejection struct {
	Kind   EntityKind `json:"kind"`
	ID     uuid.UUID  `json:"id"`
	Reason string     `json:"reason"`
}
