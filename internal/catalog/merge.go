package catalog

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
)

// Merge re-points every link to authority losing at gaining, records the
// merge in the losing authority's history and deletes it. Both must share
// a heading tag. When some dependents fail, losing is kept, the error
// matches ErrIncomplete and Merge can be called again.
func (c *Catalog) Merge(gaining, losing int, user string) (PropagationReport, error) {
	var rep PropagationReport
	if gaining == losing {
		return rep, fmt.Errorf("catalog: merge: authority %d into itself", gaining)
	}
	g, err := c.mustGet(api.Auth, gaining)
	if err != nil {
		return rep, err
	}
	l, err := c.mustGet(api.Auth, losing)
	if err != nil {
		return rep, err
	}
	gh, lh := g.Heading(), l.Heading()
	if gh == nil || lh == nil || gh.Tag != lh.Tag {
		return rep, fmt.Errorf("catalog: merge %d into %d: heading tags differ", losing, gaining)
	}

	c.auths.Invalidate()
	bibs, auths, err := c.References(losing)
	if err != nil {
		return rep, err
	}
	for _, deps := range []struct {
		rt  api.RecordType
		ids *roaring.Bitmap
	}{{api.Bib, bibs}, {api.Auth, auths}} {
		rt := deps.rt
		for _, id := range deps.ids.ToArray() {
			ref := Ref{rt, int(id)}
			if err := c.rewrite(rt, int(id), user, func(rec *marc.Record) error {
				repoint(rec, losing, gaining)
				return nil
			}); err != nil {
				c.log.Error().Err(err).Stringer("record", ref).Msg("merge repoint failed")
				rep.fail(ref, err)
				continue
			}
			rep.ok(ref)
		}
	}
	if err := rep.Err(); err != nil {
		return rep, fmt.Errorf("catalog: merge %d into %d: %w", losing, gaining, err)
	}

	hist, err := c.historyDoc(api.Auth, losing)
	if err != nil {
		return rep, err
	}
	merged := event(c.stamp(), user)
	merged["into"] = int64(gaining)
	hist[mergedKey] = merged
	if err := c.putHistory(api.Auth, hist); err != nil {
		return rep, err
	}
	if err := c.Delete(api.Auth, losing, user); err != nil {
		return rep, err
	}
	c.log.Info().Int("gaining", gaining).Int("losing", losing).Int("updated", len(rep.Updated)).
		Str("user", user).Msg("authorities merged")
	return rep, nil
}

func (c *Catalog) mustGet(rt api.RecordType, id int) (*marc.Record, error) {
	rec, err := c.Get(rt, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("catalog: %s %d: %w", rt, id, store.ErrNotFound)
	}
	return rec, nil
}

func repoint(rec *marc.Record, from, to int) {
	for _, d := range rec.Datafields("") {
		for i, s := range d.Subfields {
			if l, ok := s.(marc.Linked); ok && l.Xref == from {
				d.Subfields[i] = marc.Linked{Code: l.Code, Xref: to}
			}
		}
	}
}
