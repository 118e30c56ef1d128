// Package search provides full-text search over diary entries, backed by
// Meilisearch with a PostgreSQL FTS fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	GroupID   string `json:"groupId"`
	AuthorID  string `json:"authorId"`
	EntryDate string `json:"entryDate"`
}

// Query describes a search request. GroupIDs is the set of journals the
// caller belongs to; results never leave that set.
type Query struct {
	Text          string
	GroupIDs      []string
	FilterGroupID string // narrow to one journal; must be in GroupIDs
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entries into a search index.
type Indexer interface {
	IndexEntry(e EntryRecord) error
	DeleteEntry(id string) error
}

// EntryRecord is the data we index for a diary entry.
type EntryRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	GroupID   string   `json:"groupId"`
	AuthorID  string   `json:"authorId"`
	EntryDate string   `json:"entryDate"`
	Tags      []string `json:"tags"`
}

// scopeGroups resolves the effective set of journals a query may touch.
// A FilterGroupID outside the caller's memberships yields an empty scope.
func scopeGroups(q Query) []string {
	if q.FilterGroupID == "" {
		return q.GroupIDs
	}
	for _, id := range q.GroupIDs {
		if id == q.FilterGroupID {
			return []string{q.FilterGroupID}
		}
	}
	return nil
}
