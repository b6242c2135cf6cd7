package discovery

// Entry is one pending (url, depth) pair.
type Entry struct {
	URL   string
	Depth int
}

// Frontier is the FIFO driving the breadth-first walk, plus its visited set.
// It is owned by a single job and is not safe for concurrent use.
type Frontier struct {
	entries []Entry
	head    int
	visited map[string]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{visited: make(map[string]struct{})}
}

// Push appends an entry. The same URL may be pushed more than once.
func (f *Frontier) Push(url string, depth int) {
	f.entries = append(f.entries, Entry{URL: url, Depth: depth})
}

// Pop removes and returns the head entry.
func (f *Frontier) Pop() (Entry, bool) {
	if f.head >= len(f.entries) {
		return Entry{}, false
	}
	e := f.entries[f.head]
	f.entries[f.head] = Entry{}
	f.head++
	if f.head == len(f.entries) {
		f.entries = f.entries[:0]
		f.head = 0
	}
	return e, true
}

// Len reports the number of pending entries.
func (f *Frontier) Len() int {
	return len(f.entries) - f.head
}

// MarkVisited records the URL and reports whether it was new.
func (f *Frontier) MarkVisited(url string) bool {
	if _, seen := f.visited[url]; seen {
		return false
	}
	f.visited[url] = struct{}{}
	return true
}

// Visited reports whether the URL has been marked.
func (f *Frontier) Visited(url string) bool {
	_, seen := f.visited[url]
	return seen
}

// VisitedCount reports how many URLs have been marked.
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}
