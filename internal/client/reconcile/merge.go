package reconcile

import (
	"sort"

	"github.com/atinyakov/gophvault/internal/models"
)

// Merge unifies confirmed local records with the remote collection, keyed by
// id. When an id exists on both sides the larger LastModified wins and a tie
// keeps the remote record. Ids present on one side only are kept. The result
// is ordered newest first, ties by id, so Merge is deterministic and
// idempotent: Merge(Merge(l, r), r) equals Merge(l, r).
func Merge(local []models.Credential, remote []models.Document) []models.Credential {
	merged := make(map[string]models.Credential, len(local)+len(remote))
	for _, d := range remote {
		merged[d.ID] = d.ToCredential()
	}
	for _, l := range local {
		r, ok := merged[l.ID]
		if !ok || l.LastModified > r.LastModified {
			l.PendingSync = false
			merged[l.ID] = l
		}
	}

	out := make([]models.Credential, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(records []models.Credential) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastModified != records[j].LastModified {
			return records[i].LastModified > records[j].LastModified
		}
		return records[i].ID < records[j].ID
	})
}
