package record

import (
	"errors"
	"fmt"
	"strings"
)

// Channel identifies one independent content pipeline.
type Channel string

const (
	ChannelSCP       Channel = "scp"
	ChannelWikipedia Channel = "wikipedia"
)

// Channels lists every channel in the order they are processed.
var Channels = []Channel{ChannelSCP, ChannelWikipedia}

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelSCP, ChannelWikipedia:
		return c, nil
	default:
		return "", fmt.Errorf("unknown channel: %q", s)
	}
}

// Record is the validated result of summarizing one source item.
type Record struct {
	Channel  Channel
	Title    string
	AltTitle string
	URL      string
	Summary  string
}

var (
	ErrEmptySummary = errors.New("record summary is empty")
	ErrEmptyURL     = errors.New("record url is empty")
)

// New builds a Record. The summary must already have passed validation.
func New(ch Channel, title, altTitle, url, summary string) (Record, error) {
	if strings.TrimSpace(summary) == "" {
		return Record{}, ErrEmptySummary
	}
	if strings.TrimSpace(url) == "" {
		return Record{}, ErrEmptyURL
	}
	return Record{
		Channel:  ch,
		Title:    title,
		AltTitle: altTitle,
		URL:      url,
		Summary:  summary,
	}, nil
}

// Set maps a channel to its record. A missing or nil entry means the channel is absent.
type Set map[Channel]*Record

func (s Set) Get(ch Channel) (Record, bool) {
	r, ok := s[ch]
	if !ok || r == nil {
		return Record{}, false
	}
	return *r, true
}

// Present returns the channels that carry a record, in processing order.
func (s Set) Present() []Channel {
	var out []Channel
	for _, ch := range Channels {
		if _, ok := s.Get(ch); ok {
			out = append(out, ch)
		}
	}
	return out
}
