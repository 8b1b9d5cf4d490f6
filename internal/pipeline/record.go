package pipeline

import (
	"context"

	"github.com/JakeFAU/journal-crawler/internal/extract"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/merge"
)

const tracerName = "github.com/JakeFAU/journal-crawler/internal/pipeline"

// Ranker looks up a journal's citation ranking. Implemented by rankings.Index.
type Ranker interface {
	Lookup(ctx context.Context, issns []string, title string) (merge.Ranking, bool, error)
}

// lookupRanking returns the local ranking for auth when ranker is set. It runs
// outside journal updates so the lookup never holds a record lock.
func lookupRanking(ctx context.Context, ranker Ranker, auth merge.Authoritative) (merge.Fragment[merge.Ranking], error) {
	if ranker == nil {
		return merge.Absent[merge.Ranking](), nil
	}
	rank, ok, err := ranker.Lookup(ctx, auth.ISSNs, auth.DisplayName)
	if err != nil || !ok {
		return merge.Absent[merge.Ranking](), err
	}
	return merge.Present(rank), nil
}

// remerge recomputes the aggregated fields of rec from its raw payloads.
func remerge(rec *journal.JournalRecord, rank merge.Fragment[merge.Ranking]) {
	in := extract.Input(*rec)
	in.Ranking = rank
	res := merge.Merge(in)
	rec.Fields = res.Fields
	rec.Provenance = res.Provenance
}
