package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
)

// History document keys. A history document has the record's id and
// holds every committed state in order plus optional event markers.
const (
	snapshotsKey = "snapshots"
	createdKey   = "created"
	deletedKey   = "deleted"
	restoredKey  = "restored"
	mergedKey    = "merged"
)

// Event is one audited change.
type Event struct {
	Time time.Time
	User string
}

// History is the audit log of one record.
type History struct {
	Type      api.RecordType
	ID        int
	Snapshots []*marc.Record // committed states, oldest first
	Created   *Event
	Deleted   *Event
	Restored  *Event
	// Merged is set on an authority merged into MergedInto.
	Merged     *Event
	MergedInto int
}

func event(t time.Time, user string) map[string]any {
	return map[string]any{"time": t.UTC().Format(marc.TimeFormat), "user": user}
}

func parseEvent(v any) *Event {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	e := &Event{}
	e.User, _ = m["user"].(string)
	if s, ok := m["time"].(string); ok {
		e.Time, _ = time.Parse(marc.TimeFormat, s)
	}
	return e
}

// historyDoc loads the history document of a record, or starts one.
func (c *Catalog) historyDoc(rt api.RecordType, id int) (store.Document, error) {
	doc, err := c.store.Get(rt.HistoryCollection(), int64(id))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.Document{"_id": int64(id), snapshotsKey: []any{}}, nil
	case err != nil:
		return nil, fmt.Errorf("catalog: history %s %d: %w", rt, id, err)
	}
	return doc, nil
}

func (c *Catalog) putHistory(rt api.RecordType, doc store.Document) error {
	if err := c.store.Upsert(rt.HistoryCollection(), doc); err != nil {
		return fmt.Errorf("catalog: write history: %w", err)
	}
	return nil
}

// History returns the audit log of a record, or nil when it was never
// committed.
func (c *Catalog) History(rt api.RecordType, id int) (*History, error) {
	doc, err := c.store.Get(rt.HistoryCollection(), int64(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: history %s %d: %w", rt, id, err)
	}
	h := &History{
		Type:     rt,
		ID:       id,
		Created:  parseEvent(doc[createdKey]),
		Deleted:  parseEvent(doc[deletedKey]),
		Restored: parseEvent(doc[restoredKey]),
		Merged:   parseEvent(doc[mergedKey]),
	}
	if m, ok := doc[mergedKey].(map[string]any); ok {
		if into, ok := m["into"].(int64); ok {
			h.MergedInto = int(into)
		}
	}
	snaps, _ := doc[snapshotsKey].([]any)
	for i, s := range snaps {
		m, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("catalog: history %s %d: snapshot %d is %T", rt, id, i, s)
		}
		rec, err := c.decode(rt, m)
		if err != nil {
			return nil, fmt.Errorf("catalog: history %s %d: snapshot %d: %w", rt, id, i, err)
		}
		h.Snapshots = append(h.Snapshots, rec)
	}
	return h, nil
}

// Revert re-commits snapshot n (0 is the first commit) of a live record
// as its new current state.
func (c *Catalog) Revert(rt api.RecordType, id, n int, user string) (*marc.Record, error) {
	live, err := c.Get(rt, id)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return nil, fmt.Errorf("catalog: revert %s %d: %w", rt, id, ErrDeleted)
	}
	h, err := c.History(rt, id)
	if err != nil {
		return nil, err
	}
	if h == nil || n < 0 || n >= len(h.Snapshots) {
		return nil, fmt.Errorf("catalog: revert %s %d to %d: %w", rt, id, n, ErrNoHistory)
	}
	return c.Commit(h.Snapshots[n], user)
}

// Restore undoes a delete by re-committing the last committed state.
func (c *Catalog) Restore(rt api.RecordType, id int, user string) (*marc.Record, error) {
	live, err := c.Get(rt, id)
	if err != nil {
		return nil, err
	}
	if live != nil {
		return nil, fmt.Errorf("catalog: restore %s %d: %w", rt, id, ErrNotDeleted)
	}
	h, err := c.History(rt, id)
	if err != nil {
		return nil, err
	}
	if h == nil || len(h.Snapshots) == 0 {
		return nil, fmt.Errorf("catalog: restore %s %d: %w", rt, id, ErrNoHistory)
	}
	rec := h.Snapshots[len(h.Snapshots)-1]
	if err := c.commit(rec, user, func(hist store.Document) {
		delete(hist, deletedKey)
		hist[restoredKey] = event(rec.Updated, user)
	}); err != nil {
		return nil, err
	}
	c.log.Info().Str("record_type", string(rt)).Int("id", id).Str("user", user).Msg("record restored")
	return rec, nil
}
