// Package detect diffs a freshly loaded document set against the ledger
// and partitions it into new, modified, unchanged, and deleted sets.
package detect

import (
	"log/slog"
	"sort"

	"github.com/pressridge/blogidx/internal/ledger"
	"github.com/pressridge/blogidx/internal/loader"
)

// ChangeSets is the result of comparing a load against the ledger. The
// four sets are disjoint and together cover every source present in the
// load or the ledger.
type ChangeSets struct {
	New            []loader.Document
	Modified       []loader.Document
	Unchanged      []loader.Document
	DeletedSources []string
}

// Counts returns the sizes of the four sets.
func (c ChangeSets) Counts() (numNew, numModified, numUnchanged, numDeleted int) {
	return len(c.New), len(c.Modified), len(c.Unchanged), len(c.DeletedSources)
}

// ChangeRatio is the fraction of changed sources relative to ledger size,
// used to decide between incremental update and full rebuild.
func (c ChangeSets) ChangeRatio(ledgerSize int) float64 {
	denom := ledgerSize
	if denom < 1 {
		denom = 1
	}
	return float64(len(c.New)+len(c.Modified)+len(c.DeletedSources)) / float64(denom)
}

// HasChanges reports whether anything needs doing.
func (c ChangeSets) HasChanges() bool {
	return len(c.New) > 0 || len(c.Modified) > 0 || len(c.DeletedSources) > 0
}

// Detect computes change sets. Checksum is authoritative; modification
// time is informational only. When the same source appears twice in a
// load the last occurrence wins and a warning is logged.
func Detect(docs []loader.Document, rows map[string]ledger.Row, logger *slog.Logger) ChangeSets {
	if logger == nil {
		logger = slog.Default()
	}

	bySource := make(map[string]loader.Document, len(docs))
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		if _, dup := bySource[d.Source]; dup {
			logger.Warn("duplicate source in load, last occurrence wins",
				slog.String("source", d.Source))
		} else {
			order = append(order, d.Source)
		}
		bySource[d.Source] = d
	}

	var cs ChangeSets
	for _, source := range order {
		doc := bySource[source]
		row, known := rows[source]
		switch {
		case !known:
			cs.New = append(cs.New, doc)
		case row.ContentChecksum != doc.Checksum:
			cs.Modified = append(cs.Modified, doc)
		default:
			cs.Unchanged = append(cs.Unchanged, doc)
		}
	}

	for source := range rows {
		if _, present := bySource[source]; !present {
			cs.DeletedSources = append(cs.DeletedSources, source)
		}
	}
	sort.Strings(cs.DeletedSources)

	logger.Info("change detection complete",
		slog.Int("new", len(cs.New)),
		slog.Int("modified", len(cs.Modified)),
		slog.Int("unchanged", len(cs.Unchanged)),
		slog.Int("deleted", len(cs.DeletedSources)))
	return cs
}
