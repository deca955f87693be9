package source

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path"
	"strings"
)

var ErrEmptyURLList = errors.New("url list is empty")

// ListSource draws uniformly from a fixed list of Wikipedia article URLs.
type ListSource struct {
	urls []string
	pick func(n int) (int, error)
}

// LoadURLList reads a UTF-8 file holding one absolute URL per line.
func LoadURLList(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		if u := strings.TrimSpace(line); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: %w", filePath, ErrEmptyURLList)
	}
	return urls, nil
}

func NewListSource(urls []string) (*ListSource, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyURLList
	}
	return &ListSource{urls: urls, pick: cryptoPick}, nil
}

func NewListSourceFromFile(filePath string) (*ListSource, error) {
	urls, err := LoadURLList(filePath)
	if err != nil {
		return nil, err
	}
	return NewListSource(urls)
}

func cryptoPick(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func (s *ListSource) Len() int { return len(s.urls) }

func (s *ListSource) Next(ctx context.Context) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	i, err := s.pick(len(s.urls))
	if err != nil {
		return Item{}, &FetchError{Source: "wikipedia", Err: err}
	}
	u := s.urls[i]
	return Item{Title: WikipediaTitle(u), URL: u}, nil
}

// WikipediaTitle derives a display title from an article URL,
// e.g. ".../wiki/Albert_Einstein" → "Albert Einstein".
func WikipediaTitle(articleURL string) string {
	last := articleURL
	if parsed, err := url.Parse(articleURL); err == nil && parsed.Path != "" {
		last = path.Base(parsed.EscapedPath())
	} else if i := strings.LastIndex(articleURL, "/"); i >= 0 {
		last = articleURL[i+1:]
	}
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	return strings.ReplaceAll(last, "_", " ")
}
