package search

// Sort orders for the discovery gallery.
const (
	SortRecent  = "recent"
	SortPopular = "popular"
)

// Result is a single public board returned by discovery.
type Result struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet,omitempty"`
	NoteCount    int    `json:"noteCount"`
	TotalUpvotes int    `json:"totalUpvotes"`
	CreatedAt    string `json:"createdAt"`
}

// Query describes a discovery request over public boards.
type Query struct {
	Text   string
	Sort   string // SortRecent (default) or SortPopular
	Limit  int
	Offset int
}

// Response is the envelope returned by the discover endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a discovery query.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// BoardRecord is the data we index per public board. NoteText carries the
// concatenated note contents so content matches surface the board.
type BoardRecord struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	NoteText      string  `json:"noteText"`
	NoteCount     int     `json:"noteCount"`
	TotalUpvotes  int     `json:"totalUpvotes"`
	CreatedAt     string  `json:"createdAt"`
	CreatedAtUnix float64 `json:"createdAtUnix"`
}
