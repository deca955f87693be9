package render

import (
	"strings"

	"ghsum/internal/record"
)

// Placeholder tokens substituted into the template, per channel.
const (
	SCPURL      = "{{SCP_URL}}"
	SCPTitle    = "{{SCP_TITLE}}"
	SCPTitleAlt = "{{SCP_TITLE_ALT}}"
	SCPSummary  = "{{SCP_SUMMARY}}"

	WikipediaURL     = "{{WIKIPEDIA_URL}}"
	WikipediaTitle   = "{{WIKIPEDIA_TITLE}}"
	WikipediaSummary = "{{WIKIPEDIA_SUMMARY}}"
)

// Placeholders returns the tokens owned by a channel.
func Placeholders(ch record.Channel) []string {
	switch ch {
	case record.ChannelSCP:
		return []string{SCPURL, SCPTitle, SCPTitleAlt, SCPSummary}
	case record.ChannelWikipedia:
		return []string{WikipediaURL, WikipediaTitle, WikipediaSummary}
	}
	return nil
}

func bindings(r record.Record) []string {
	switch r.Channel {
	case record.ChannelSCP:
		return []string{
			SCPURL, r.URL,
			SCPTitle, r.Title,
			SCPTitleAlt, r.AltTitle,
			SCPSummary, r.Summary,
		}
	case record.ChannelWikipedia:
		return []string{
			WikipediaURL, r.URL,
			WikipediaTitle, r.Title,
			WikipediaSummary, r.Summary,
		}
	}
	return nil
}

// Render substitutes the placeholders of every present channel in one pass.
// Substituted values are never scanned again, so a summary that happens to
// contain placeholder syntax is emitted as-is. Absent channels keep their tokens.
func Render(template string, records record.Set) string {
	var pairs []string
	for _, ch := range records.Present() {
		r, _ := records.Get(ch)
		r.Channel = ch
		pairs = append(pairs, bindings(r)...)
	}
	if len(pairs) == 0 {
		return template
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
