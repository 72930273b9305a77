package rules

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bakery-system/internal/domain"
)

// Section is one titled block of the community rulebook.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Fetcher pulls the rulebook from its published URL and splits it into
// sections on second-level headings. Responses are cached briefly so a
// burst of rule lookups does not hammer the document host.
type Fetcher struct {
	url    string
	client *http.Client

	mu        sync.Mutex
	cached    []Section
	fetchedAt time.Time
	ttl       time.Duration
}

func NewFetcher(url string) *Fetcher {
	return &Fetcher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    5 * time.Minute,
	}
}

func (f *Fetcher) Sections(ctx context.Context) ([]Section, error) {
	f.mu.Lock()
	if f.cached != nil && time.Since(f.fetchedAt) < f.ttl {
		out := append([]Section(nil), f.cached...)
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalDependency, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch rules: %v", domain.ErrExternalDependency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rules host returned %d", domain.ErrExternalDependency, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read rules: %v", domain.ErrExternalDependency, err)
	}

	sections := Parse(string(raw))

	f.mu.Lock()
	f.cached = sections
	f.fetchedAt = time.Now()
	f.mu.Unlock()
	return append([]Section(nil), sections...), nil
}

// Parse splits a markdown document into sections on "## " headings. Text
// before the first heading becomes an untitled preamble section.
func Parse(doc string) []Section {
	var (
		out []Section
		cur Section
		buf strings.Builder
	)
	flush := func() {
		body := strings.TrimSpace(buf.String())
		if cur.Title != "" || body != "" {
			cur.Body = body
			out = append(out, cur)
		}
		buf.Reset()
	}
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = Section{Title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return out
}
