package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dag-hammarskjold-library/dlx-sub000/api"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/index"
	"github.com/dag-hammarskjold-library/dlx-sub000/internal/marc"
)

var (
	// ErrDeleted is returned when reverting a record that is not live.
	ErrDeleted = errors.New("catalog: record is deleted")
	// ErrNotDeleted is returned when restoring a record that is live.
	ErrNotDeleted = errors.New("catalog: record is not deleted")
	// ErrNoHistory is returned when a record has no history to replay.
	ErrNoHistory = errors.New("catalog: record has no history")
	// ErrIncomplete is matched by the error of a bulk pass that left some
	// records unprocessed. The pass can be re-run.
	ErrIncomplete = errors.New("catalog: bulk pass incomplete")
)

// AuthInUseError reports an authority that cannot be deleted because
// records still link to it.
type AuthInUseError struct {
	Xref       int
	References int
}

func (e *AuthInUseError) Error() string {
	return fmt.Sprintf("%s: authority %d is referenced by %d records", marc.ErrAuthInUse, e.Xref, e.References)
}

func (e *AuthInUseError) Unwrap() error { return marc.ErrAuthInUse }

// Ref names one record.
type Ref struct {
	Type api.RecordType
	ID   int
}

func (r Ref) String() string { return fmt.Sprintf("%s/%d", r.Type, r.ID) }

// PropagationReport lists the outcome of a bulk pass over dependent
// records. Failures never abort the pass.
type PropagationReport struct {
	Updated []Ref
	Failed  map[Ref]error
}

// OK reports whether every record succeeded.
func (r PropagationReport) OK() bool { return len(r.Failed) == 0 }

// Err summarizes the failures, or returns nil.
func (r PropagationReport) Err() error {
	if r.OK() {
		return nil
	}
	refs := make([]Ref, 0, len(r.Failed))
	for ref := range r.Failed {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = fmt.Sprintf("%s: %v", ref, r.Failed[ref])
	}
	return fmt.Errorf("%w: %d failed: %s", ErrIncomplete, len(refs), strings.Join(parts, "; "))
}

func (r *PropagationReport) ok(ref Ref) { r.Updated = append(r.Updated, ref) }

func (r *PropagationReport) fail(ref Ref, err error) {
	if r.Failed == nil {
		r.Failed = make(map[Ref]error)
	}
	r.Failed[ref] = err
}

func (r *PropagationReport) merge(rt api.RecordType, rep index.Report) {
	for _, id := range rep.Updated {
		r.ok(Ref{rt, id})
	}
	for id, err := range rep.Failed {
		r.fail(Ref{rt, id}, err)
	}
}
