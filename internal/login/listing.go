package login

import (
	"fmt"
	"io"
)

// WriteListing prints the live count, one line per session, then the count
// again.
func WriteListing(w io.Writer, reg *Registry) error {
	snap := reg.Snapshot()
	if _, err := fmt.Fprintf(w, "sessions: %d\n", len(snap)); err != nil {
		return err
	}
	for i, e := range snap {
		if _, err := fmt.Fprintf(w, "  %4d. dev[%s-%s]-session[%s]\n",
			i+1, e.Member.DevType(), e.Member.DevURI(), e.SessionID); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "sessions: %d\n", len(snap))
	return err
}

// ListingRow is the JSON form of one listed session.
type ListingRow struct {
	Index     int    `json:"index"`
	TaskID    uint64 `json:"task_id"`
	DevType   string `json:"dev_type"`
	DevURI    string `json:"dev_uri"`
	SessionID string `json:"session"`
}

func ListingRows(reg *Registry) []ListingRow {
	snap := reg.Snapshot()
	rows := make([]ListingRow, 0, len(snap))
	for i, e := range snap {
		rows = append(rows, ListingRow{
			Index:     i + 1,
			TaskID:    uint64(e.Member.TaskID()),
			DevType:   e.Member.DevType(),
			DevURI:    e.Member.DevURI(),
			SessionID: e.SessionID,
		})
	}
	return rows
}
