package schemas

// -- Core Review Models --
// These types represent the entities the scraper extracts and accumulates.

// Review is one scraped product review. Fields that cannot be extracted from
// the page degrade to placeholder values instead of excluding the record; the
// single exclusion criterion is an empty body (enforced at extraction time,
// never stored).
type Review struct {
	ID              string `json:"id"`
	Author          string `json:"author"`
	RatingLabel     string `json:"ratingLabel"`
	Title           string `json:"title"`
	Date            string `json:"date"`
	BodyText        string `json:"bodyText"`
	Verified        bool   `json:"verifiedPurchaseFlag"`
	VariantLabel    string `json:"variantLabel"`
	FilterPartition string `json:"filterPartition"`
	PageIndex       int    `json:"pageIndex"`
}

// -- Filter Partitioning --

// StarFilter identifies one of the five mutually exclusive rating partitions
// of the review listing. ID is the stable identifier used in exports and
// session state; Query is the value the listing encodes in its
// `filterByStar` URL parameter.
type StarFilter struct {
	ID    string `json:"id"`
	Query string `json:"query"`
}

// FilterSet is the fixed, ordered sequence of partitions. Order is
// significant: it defines traversal order and progress indexing.
type FilterSet []StarFilter

// DefaultFilterSet covers the five star ratings in ascending order.
var DefaultFilterSet = FilterSet{
	{ID: "1-star", Query: "one_star"},
	{ID: "2-star", Query: "two_star"},
	{ID: "3-star", Query: "three_star"},
	{ID: "4-star", Query: "four_star"},
	{ID: "5-star", Query: "five_star"},
}

// ByQuery resolves a `filterByStar` query value to its partition.
func (fs FilterSet) ByQuery(query string) (StarFilter, bool) {
	for _, f := range fs {
		if f.Query == query {
			return f, true
		}
	}
	return StarFilter{}, false
}

// -- Session Aggregate --

// ScrapeSession is the single mutable aggregate tracking traversal progress
// and accumulated reviews. It is created, mutated and destroyed exclusively
// by the traversal controller; the store is a dumb persistence channel.
//
// Invariants: 0 <= CurrentFilterIndex < len(FilterSet) while persisted (the
// terminal "exhausted" value is handled by clearing the session, never
// stored), CurrentPageIndex >= 1, and every stored Review has a non-empty
// body.
type ScrapeSession struct {
	Active             bool     `json:"active"`
	Records            []Review `json:"records"`
	CurrentFilterIndex int      `json:"currentFilterIndex"`
	CurrentPageIndex   int      `json:"currentPageIndex"`
	LastObservedURL    string   `json:"lastObservedUrl"`
	StartedAt          int64    `json:"startedAt"`
	LastUpdated        int64    `json:"lastUpdated"`
}

// NewScrapeSession returns a fresh session positioned at the first partition,
// page 1, with no accumulated records.
func NewScrapeSession(now int64) *ScrapeSession {
	return &ScrapeSession{
		Active:             true,
		Records:            []Review{},
		CurrentFilterIndex: 0,
		CurrentPageIndex:   1,
		StartedAt:          now,
		LastUpdated:        now,
	}
}

// Append adds extracted reviews in page order and advances the page cursor.
func (s *ScrapeSession) Append(reviews []Review, pageIndex int) {
	s.Records = append(s.Records, reviews...)
	if pageIndex >= 1 {
		s.CurrentPageIndex = pageIndex
	}
}

// AdvanceFilter moves the session to the next partition, resetting the page
// cursor. It returns false once the filter set is exhausted; the caller is
// then responsible for export and teardown.
func (s *ScrapeSession) AdvanceFilter(set FilterSet) bool {
	s.CurrentFilterIndex++
	s.CurrentPageIndex = 1
	return s.CurrentFilterIndex < len(set)
}

// ExpectedFilter returns the partition the session should currently be
// scraping, or false if the index is out of range.
func (s *ScrapeSession) ExpectedFilter(set FilterSet) (StarFilter, bool) {
	if s.CurrentFilterIndex < 0 || s.CurrentFilterIndex >= len(set) {
		return StarFilter{}, false
	}
	return set[s.CurrentFilterIndex], true
}

// -- Control Surface --

// Status is the answer to a get-status control signal.
type Status struct {
	IsScanning       bool `json:"isScanning"`
	TotalRecordCount int  `json:"totalRecordCount"`
}

// ExportResult is the answer to a request-export control signal.
type ExportResult struct {
	Success bool   `json:"success"`
	CSV     []byte `json:"csv,omitempty"`
	Error   string `json:"error,omitempty"`
}
