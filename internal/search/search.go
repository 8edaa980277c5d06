// Package search indexes approved church profiles for the public directory.
package search

// ChurchRecord is the data we index per published church.
type ChurchRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Town           string `json:"town"`
	Province       string `json:"province"`
	Diocese        string `json:"diocese"`
	Patron         string `json:"patron"`
	Description    string `json:"description"`
	Classification string `json:"classification"`
}

// Query describes a public directory search request.
type Query struct {
	Text                 string
	FilterProvince       string
	FilterClassification string
	Limit                int
	Offset               int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Town           string `json:"town"`
	Province       string `json:"province"`
	Diocese        string `json:"diocese"`
	Classification string `json:"classification"`
	Snippet        string `json:"snippet"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over published churches.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push church records into a search index.
type Indexer interface {
	IndexChurch(rec ChurchRecord) error
	IndexChurches(recs []ChurchRecord) error
	DeleteChurch(id string) error
}
