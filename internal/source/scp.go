package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultSCPEndpoint = "https://api.crom.avn.sh/graphql"
	scpWikiBaseURL     = "http://scp-wiki.wikidot.com"
	// Some mirrors refuse the default Go user agent.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.3"
	maxErrorBody     = 512
)

var randomSCPQuery = `{randomPage(filter: {anyBaseUrl: "` + scpWikiBaseURL + `", allTags: "scp"}) {page {alternateTitles {title}, url, wikidotInfo{title}}}}`

// SCPSource picks a random SCP article through the Crom GraphQL API.
type SCPSource struct {
	client   *http.Client
	endpoint string
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type scpResponse struct {
	Data struct {
		RandomPage *struct {
			Page *struct {
				URL             string `json:"url"`
				AlternateTitles []struct {
					Title string `json:"title"`
				} `json:"alternateTitles"`
				WikidotInfo struct {
					Title string `json:"title"`
				} `json:"wikidotInfo"`
			} `json:"page"`
		} `json:"randomPage"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func ValidateEndpoint(endpoint string) error {
	if !strings.HasPrefix(endpoint, "http:") && !strings.HasPrefix(endpoint, "https:") {
		return fmt.Errorf("invalid SCP GraphQL endpoint %q: must start with http: or https:", endpoint)
	}
	return nil
}

func NewSCPSource(endpoint string, timeout time.Duration) (*SCPSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultSCPEndpoint
	}
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SCPSource{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}, nil
}

func (s *SCPSource) Next(ctx context.Context) (Item, error) {
	body, err := json.Marshal(graphQLRequest{Query: randomSCPQuery})
	if err != nil {
		return Item{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Item{}, &FetchError{Source: "scp", Err: err}
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Item{}, &FetchError{Source: "scp", Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Item{}, &FetchError{Source: "scp", Status: resp.StatusCode, Retryable: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Item{}, &FetchError{
			Source:    "scp",
			Status:    resp.StatusCode,
			Body:      truncate(strings.TrimSpace(string(raw)), maxErrorBody),
			Retryable: retryableStatus(resp.StatusCode),
		}
	}

	var parsed scpResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Item{}, &FetchError{Source: "scp", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return Item{}, &FetchError{Source: "scp", Status: resp.StatusCode, Body: strings.Join(msgs, "; "), Retryable: true}
	}
	if parsed.Data.RandomPage == nil || parsed.Data.RandomPage.Page == nil || parsed.Data.RandomPage.Page.URL == "" {
		return Item{}, &FetchError{Source: "scp", Status: resp.StatusCode, Err: errors.New("response has no page")}
	}

	page := parsed.Data.RandomPage.Page
	item := Item{
		Title: page.WikidotInfo.Title,
		URL:   page.URL,
	}
	if len(page.AlternateTitles) > 0 {
		item.AltTitle = page.AlternateTitles[0].Title
	}
	return item, nil
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
