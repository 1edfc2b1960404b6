package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// CatalogWalk is the paging state of one catalog walk. It is created when
// page 1 is served and fixes the version range every later page reads from.
type CatalogWalk struct {
	AgentID    uuid.UUID `json:"agentId"`
	DeviceID   string    `json:"deviceId"`
	Watermark  int64     `json:"watermark"`
	Ceiling    int64     `json:"ceiling"`
	PageSize   int       `json:"pageSize"`
	TotalItems int       `json:"totalItems"`
	TotalPages int       `json:"totalPages"`
	// Cursors maps a page number to the key the page starts after. Page 1
	// has no entry.
	Cursors   map[string]CatalogKey `json:"cursors"`
	StartedAt time.Time             `json:"startedAt"`
}

func (w *CatalogWalk) CursorFor(page int) (CatalogKey, bool) {
	key, ok := w.Cursors[strconv.Itoa(page)]
	return key, ok
}

func (w *CatalogWalk) SetCursor(page int, key CatalogKey) {
	if w.Cursors == nil {
		w.Cursors = make(map[string]CatalogKey)
	}
	w.Cursors[strconv.Itoa(page)] = key
}
