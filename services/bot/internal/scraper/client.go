package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const DefaultBaseURL = "https://openlibrary.org"

// Work is one entry of an OpenLibrary subject listing.
type Work struct {
	Key         string          `json:"key"`
	Title       string          `json:"title"`
	Authors     []WorkAuthor    `json:"authors"`
	Subject     []string        `json:"subject"`
	Description json.RawMessage `json:"description,omitempty"`
}

type WorkAuthor struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// SubjectPage is the body of GET /subjects/{subject}.json.
type SubjectPage struct {
	Name      string `json:"name"`
	WorkCount int    `json:"work_count"`
	Works     []Work `json:"works"`
}

// Client fetches subject listings from OpenLibrary. Calls go through a
// circuit breaker that opens after consecutive failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[SubjectPage]
}

// NewClient builds a client for baseURL. A nil httpClient gets a 30s timeout.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	breaker := gobreaker.NewCircuitBreaker[SubjectPage](gobreaker.Settings{
		Name:        "openlibrary",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{httpClient: httpClient, baseURL: baseURL, breaker: breaker}
}

// Subject returns one page of works for subject.
func (c *Client) Subject(ctx context.Context, subject string, limit, offset int) (SubjectPage, error) {
	page, err := c.breaker.Execute(func() (SubjectPage, error) {
		return c.fetch(ctx, subject, limit, offset)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return SubjectPage{}, fmt.Errorf("openlibrary unavailable: %w", err)
	}
	return page, err
}

func (c *Client) fetch(ctx context.Context, subject string, limit, offset int) (SubjectPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	endpoint := fmt.Sprintf("%s/subjects/%s.json?%s", c.baseURL, url.PathEscape(subject), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SubjectPage{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubjectPage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SubjectPage{}, fmt.Errorf("openlibrary api error: %s %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var page SubjectPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return SubjectPage{}, fmt.Errorf("decode subject page: %w", err)
	}
	return page, nil
}

// DescriptionText handles both encodings OpenLibrary uses for descriptions:
// a bare string or an object with a value field.
func (w Work) DescriptionText() string {
	if len(w.Description) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(w.Description, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var typed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(w.Description, &typed); err == nil {
		return strings.TrimSpace(typed.Value)
	}
	return ""
}
