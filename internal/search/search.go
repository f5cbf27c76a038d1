package search

// Result is a single project search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	College string `json:"college"`
	Status  string `json:"status"`
	Creator string `json:"creator"`
	Upvotes int    `json:"upvotes"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterCollege string
	FilterStatus  string // empty = all statuses
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over projects.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push projects into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexProjects(projects []ProjectRecord) error
	DeleteProject(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	College     string `json:"college"`
	Status      string `json:"status"`
	Creator     string `json:"creator"`
	Upvotes     int    `json:"upvotes"`
}
