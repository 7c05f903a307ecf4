package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"
	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/index"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/query"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/store"
)

// Commit validates rec, stamps its audit fields, appends it to its history
// and writes it with fresh search projections. A new record gets an id.
//
// Committing an authority clears the resolver caches. When its heading
// changed, dependent records are refreshed, and when the heading tag
// changed their linking fields are retagged first. Failures on dependents
// do not undo the commit; they are reported through an error matching
// ErrIncomplete and the pass can be re-run with Reindex.
func (c *Catalog) Commit(rec *marc.Record, user string) (*marc.Record, error) {
	if err := c.commit(rec, user, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Catalog) commit(rec *marc.Record, user string, mutate func(store.Document)) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("catalog: commit: unknown record type %q", rec.Type)
	}
	if rec.Authorities() == nil {
		rec.Bind(marc.WithAuthorities(c.auths))
	}
	if err := c.validator.Validate(rec.ToDocument()); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	if err := rec.ValidateAuthority(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}

	var prev *marc.Record
	if rec.ID != 0 {
		p, err := c.Get(rec.Type, rec.ID)
		if err != nil {
			return err
		}
		prev = p
	}
	now := c.stamp()
	switch {
	case prev != nil:
		rec.Created, rec.CreatedUser = prev.Created, prev.CreatedUser
	case rec.ID == 0:
		id, err := c.ids.Next(rec.Type)
		if err != nil {
			return err
		}
		rec.ID = id
		fallthrough
	default:
		if rec.Created.IsZero() {
			rec.Created, rec.CreatedUser = now, user
		}
	}
	rec.Updated, rec.User = now, user

	if err := c.save(rec, func(hist store.Document) {
		if _, ok := hist[createdKey]; !ok {
			hist[createdKey] = event(rec.Created, rec.CreatedUser)
		}
		if mutate != nil {
			mutate(hist)
		}
	}); err != nil {
		return err
	}
	c.log.Debug().Str("record_type", string(rec.Type)).Int("id", rec.ID).Str("user", user).Msg("record committed")

	if rec.Type == api.Auth {
		return c.authorityCommitted(prev, rec, user)
	}
	return nil
}

// save appends rec to its history and writes it with its projections.
func (c *Catalog) save(rec *marc.Record, mutate func(store.Document)) error {
	hist, err := c.historyDoc(rec.Type, rec.ID)
	if err != nil {
		return err
	}
	snaps, _ := hist[snapshotsKey].([]any)
	hist[snapshotsKey] = append(snaps, rec.ToDocument())
	if mutate != nil {
		mutate(hist)
	}
	if err := c.putHistory(rec.Type, hist); err != nil {
		return err
	}
	if err := c.store.Upsert(rec.Type.Collection(), c.idx.Document(rec)); err != nil {
		return fmt.Errorf("catalog: write %s %d: %w", rec.Type, rec.ID, err)
	}
	return c.idx.Update(rec)
}

func (c *Catalog) authorityCommitted(prev, rec *marc.Record, user string) error {
	// Caches go first so the dependent scan below resolves new values.
	c.auths.Invalidate()
	if prev == nil {
		return nil
	}
	oldH, newH := prev.Heading(), rec.Heading()
	if oldH != nil && newH != nil && oldH.Equal(newH) {
		return nil
	}

	var rep PropagationReport
	done := map[api.RecordType]*roaring.Bitmap{api.Bib: roaring.New(), api.Auth: roaring.New()}
	if oldH != nil && newH != nil && oldH.Tag != newH.Tag {
		if err := c.retag(rec.ID, oldH.Tag, newH.Tag, user, &rep, done); err != nil {
			return err
		}
	}
	if err := c.refreshDependents(rec.ID, done, &rep); err != nil {
		return err
	}
	c.log.Info().Int("xref", rec.ID).Int("updated", len(rep.Updated)).Int("failed", len(rep.Failed)).
		Msg("authority change propagated")
	if err := rep.Err(); err != nil {
		return fmt.Errorf("catalog: propagate authority %d: %w", rec.ID, err)
	}
	return nil
}

// retag moves every link to xref from the tags of oldHeading to the
// matching tags of newHeading: the first digit is kept and the rest taken
// from the new heading, so 700 linking to a 100 becomes 710 for a 110.
func (c *Catalog) retag(xref int, oldHeading, newHeading, user string, rep *PropagationReport, done map[api.RecordType]*roaring.Bitmap) error {
	for _, rt := range []api.RecordType{api.Bib, api.Auth} {
		tags := c.table.TagsForHeading(rt, oldHeading)
		if len(tags) == 0 {
			continue
		}
		ids, err := c.linking(rt, xref)
		if err != nil {
			return err
		}
		if rt == api.Auth {
			ids.Remove(uint32(xref))
		}
		it := ids.Iterator()
		for it.HasNext() {
			id := int(it.Next())
			ref := Ref{rt, id}
			err := c.rewrite(rt, id, user, func(rec *marc.Record) error {
				return c.retagFields(rec, xref, tags, newHeading)
			})
			if err != nil {
				c.log.Error().Err(err).Stringer("record", ref).Msg("retag failed")
				rep.fail(ref, err)
				continue
			}
			done[rt].Add(uint32(id))
			rep.ok(ref)
		}
	}
	return nil
}

func (c *Catalog) retagFields(rec *marc.Record, xref int, tags []string, newHeading string) error {
	for _, d := range rec.Datafields("") {
		if !slices.Contains(tags, d.Tag) || !slices.Contains(d.Xrefs(), xref) {
			continue
		}
		tag := d.Tag[:1] + newHeading[1:]
		for _, s := range d.Subfields {
			l, ok := s.(marc.Linked)
			if !ok || l.Xref != xref {
				continue
			}
			if h, _ := c.table.HeadingTag(rec.Type, tag, l.Code); h != newHeading {
				return &marc.AuthError{Kind: marc.InvalidAuthField, RecordType: rec.Type, Tag: tag, Code: l.Code, Xref: xref,
					Detail: fmt.Sprintf("no controlled field for heading %s replaces %s", newHeading, d.Tag)}
			}
		}
		d.Tag = tag
	}
	return nil
}

// rewrite loads a record, applies fn and saves it as a new state.
func (c *Catalog) rewrite(rt api.RecordType, id int, user string, fn func(*marc.Record) error) error {
	rec, err := c.Get(rt, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("catalog: %s %d: %w", rt, id, store.ErrNotFound)
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.Updated, rec.User = c.stamp(), user
	return c.save(rec, nil)
}

func (c *Catalog) refreshDependents(xref int, skip map[api.RecordType]*roaring.Bitmap, rep *PropagationReport) error {
	bibs, auths, err := c.References(xref)
	if err != nil {
		return err
	}
	for rt, ids := range map[api.RecordType]*roaring.Bitmap{api.Bib: bibs, api.Auth: auths} {
		ids.AndNot(skip[rt])
		rep.merge(rt, c.idx.Refresh(rt, ids))
	}
	return nil
}

// linking collects the records of rt that link to xref from any
// controlled field.
func (c *Catalog) linking(rt api.RecordType, xref int) (*roaring.Bitmap, error) {
	f, err := c.comp.Compile(&query.Query{Type: rt, Clauses: []query.Clause{query.XrefMatch{Xref: xref}}})
	if err != nil {
		return nil, err
	}
	return index.IDs(c.store, rt, f)
}

// References returns the bibs and authorities linking to authority xref.
// The authority itself is not counted.
func (c *Catalog) References(xref int) (bibs, auths *roaring.Bitmap, err error) {
	if bibs, err = c.linking(api.Bib, xref); err != nil {
		return nil, nil, err
	}
	if auths, err = c.linking(api.Auth, xref); err != nil {
		return nil, nil, err
	}
	auths.Remove(uint32(xref))
	return bibs, auths, nil
}

// Delete removes a record, leaving a deleted marker in its history. An
// authority still linked from any record is not deleted; the error is an
// *AuthInUseError.
func (c *Catalog) Delete(rt api.RecordType, id int, user string) error {
	if _, err := c.store.Get(rt.Collection(), int64(id)); err != nil {
		return fmt.Errorf("catalog: delete %s %d: %w", rt, id, err)
	}
	if rt == api.Auth {
		bibs, auths, err := c.References(id)
		if err != nil {
			return err
		}
		if n := bibs.GetCardinality() + auths.GetCardinality(); n > 0 {
			return &AuthInUseError{Xref: id, References: int(n)}
		}
	}

	hist, err := c.historyDoc(rt, id)
	if err != nil {
		return err
	}
	hist[deletedKey] = event(c.stamp(), user)
	if err := c.putHistory(rt, hist); err != nil {
		return err
	}
	if err := c.store.Delete(rt.Collection(), int64(id)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("catalog: delete %s %d: %w", rt, id, err)
	}
	if rt == api.Auth {
		c.auths.Invalidate()
	}
	c.log.Info().Str("record_type", string(rt)).Int("id", id).Str("user", user).Msg("record deleted")
	return nil
}

// DeleteRecord deletes rec.
func (c *Catalog) DeleteRecord(rec *marc.Record, user string) error {
	return c.Delete(rec.Type, rec.ID, user)
}
