package model

import (
	"encoding/json"
	"strings"
	"time"
)

// TagMap holds a plugin's category tags. The registry usually serializes
// tags as an object of slug -> label, but some records carry an empty array
// instead; both shapes must decode without failing the whole page.
type TagMap map[string]string

func (t *TagMap) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || strings.HasPrefix(trimmed, "[") {
		*t = TagMap{}
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		*t = TagMap{}
		return nil
	}
	*t = m
	return nil
}

// Keys returns the tag slugs.
func (t TagMap) Keys() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	return out
}

// PluginRecord is one registry-sourced plugin row, constructed fresh on
// every page fetch and never mutated.
type PluginRecord struct {
	Slug                   string            `json:"slug"`
	Name                   string            `json:"name"`
	Version                string            `json:"version"`
	Author                 string            `json:"author"`
	AuthorProfile          string            `json:"author_profile"`
	ActiveInstalls         int               `json:"active_installs"`
	Downloaded             int               `json:"downloaded"`
	LastUpdated            string            `json:"last_updated"`
	Added                  string            `json:"added"`
	Tested                 string            `json:"tested"`
	Requires               string            `json:"requires"`
	RequiresPHP            string            `json:"requires_php"`
	Rating                 float64           `json:"rating"`
	NumRatings             int               `json:"num_ratings"`
	SupportThreads         int               `json:"support_threads"`
	SupportThreadsResolved int               `json:"support_threads_resolved"`
	ShortDescription       string            `json:"short_description"`
	Tags                   TagMap            `json:"tags"`
	Sections               map[string]string `json:"sections"`
	DownloadLink           string            `json:"download_link"`
	Homepage               string            `json:"homepage"`
	DonateLink             string            `json:"donate_link"`
}

// ThemeRecord is the theme directory's thinner sibling of PluginRecord.
type ThemeRecord struct {
	Slug         string  `json:"slug"`
	Name         string  `json:"name"`
	Version      string  `json:"version"`
	Author       any     `json:"author"` // string or {user_nicename,...}
	Downloaded   int     `json:"downloaded"`
	LastUpdated  string  `json:"last_updated"`
	Rating       float64 `json:"rating"`
	Description  string  `json:"description"`
	Tags         TagMap  `json:"tags"`
	DownloadLink string  `json:"download_link"`
}

// AuthorName flattens the theme author field, which the registry returns
// either as a string or as an object.
func (t *ThemeRecord) AuthorName() string {
	switch a := t.Author.(type) {
	case string:
		return a
	case map[string]any:
		for _, key := range []string{"display_name", "user_nicename", "author"} {
			if v, ok := a[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return "Unknown"
}

// unknownAgeDays is returned when the last-updated timestamp is absent or
// unparsable; unknown age counts as maximally stale, not fresh.
const unknownAgeDays = 9999

// ParseLastUpdated extracts the date from the registry's last-updated
// string ("2025-03-01 9:05am GMT" and similar). The time-of-day suffix is
// ignored.
func ParseLastUpdated(lastUpdated string) (time.Time, bool) {
	if lastUpdated == "" {
		return time.Time{}, false
	}
	datePart, _, _ := strings.Cut(lastUpdated, " ")
	t, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysSince computes whole days between the registry's last-updated string
// (date prefix of "2006-01-02 ...") and now.
func DaysSince(lastUpdated string) int {
	return DaysSinceAt(lastUpdated, time.Now())
}

// DaysSinceAt is DaysSince against an explicit reference time, for tests.
func DaysSinceAt(lastUpdated string, now time.Time) int {
	t, ok := ParseLastUpdated(lastUpdated)
	if !ok {
		return unknownAgeDays
	}
	return int(now.Sub(t).Hours() / 24)
}
