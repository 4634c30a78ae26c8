package plex

import (
	"encoding/json"
	"encoding/xml"
	"strings"
)

// container is the envelope every Plex JSON response uses.
type container struct {
	MediaContainer mediaContainer `json:"MediaContainer"`
}

type mediaContainer struct {
	MachineIdentifier string      `json:"machineIdentifier"`
	Directory         []Directory `json:"Directory"`
	Metadata          []Item      `json:"Metadata"`
	Setting           []Setting   `json:"Setting"`
}

// Directory is one library section.
type Directory struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Setting is one server preference entry.
type Setting struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Item is one metadata record as Plex returns it. The engine addresses remote
// attributes by the names the schema registry declares, so items stay in
// their raw JSON-object form with typed accessors on top.
type Item map[string]interface{}

// Str returns a string attribute, with ok=false when absent.
func (i Item) Str(key string) (string, bool) {
	v, found := i[key]
	if !found {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns a numeric attribute as int64, with ok=false when absent or not
// a number. JSON numbers decode as float64.
func (i Item) Int(key string) (int64, bool) {
	v, found := i[key]
	if !found {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		parsed, err := n.Int64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

// Has reports whether the attribute is present at all, which is distinct from
// being present with an empty value.
func (i Item) Has(key string) bool {
	_, found := i[key]
	return found
}

// RatingKey returns the item's server-local identifier.
func (i Item) RatingKey() string {
	s, _ := i.Str("ratingKey")
	return s
}

// Key returns the item's children path (e.g. /library/metadata/123/children).
func (i Item) Key() string {
	s, _ := i.Str("key")
	return s
}

// Title returns the item's display title.
func (i Item) Title() string {
	s, _ := i.Str("title")
	return s
}

// UpdatedAt returns the remote last-modified timestamp, 0 when absent.
func (i Item) UpdatedAt() int64 {
	n, _ := i.Int("updatedAt")
	return n
}

// HasGUID reports whether the item carries any stable cross-server identity.
// Items without one can never be matched on a later run and are skipped.
func (i Item) HasGUID() bool {
	return i.Has("Guid")
}

// GUID canonicalizes the item's Guid list into the string persisted as its
// cross-server identity: the entry ids joined with commas, in server order
// (e.g. "imdb://tt0903747,tmdb://1396").
func (i Item) GUID() string {
	entries, ok := i["Guid"].([]interface{})
	if !ok {
		return ""
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := m["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return strings.Join(ids, ",")
}

// Tags returns the tag names of a label-list attribute (Genre, Writer, ...).
// An absent attribute yields an empty slice.
func (i Item) Tags(key string) []string {
	entries, ok := i[key].([]interface{})
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if tag, ok := m["tag"].(string); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Markers returns the item's Marker entries (intro detection and the like).
func (i Item) Markers() []Marker {
	entries, ok := i["Marker"].([]interface{})
	if !ok {
		return nil
	}
	markers := make([]Marker, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		marker := Marker{}
		if t, ok := m["type"].(string); ok {
			marker.Type = t
		}
		if start, ok := m["startTimeOffset"].(float64); ok {
			marker.StartTimeOffset = int64(start)
		}
		if end, ok := m["endTimeOffset"].(float64); ok {
			marker.EndTimeOffset = int64(end)
		}
		markers = append(markers, marker)
	}
	return markers
}

// Marker is one timeline annotation on an episode.
type Marker struct {
	Type            string
	StartTimeOffset int64
	EndTimeOffset   int64
}

// User is one account sharing the server, as listed by plex.tv.
type User struct {
	ID    string
	Token string
}

// sharedServersResponse mirrors the XML document plex.tv returns for the
// shared_servers listing; that endpoint has no JSON form.
type sharedServersResponse struct {
	XMLName       xml.Name           `xml:"MediaContainer"`
	SharedServers []sharedServerItem `xml:"SharedServer"`
}

type sharedServerItem struct {
	UserID      string `xml:"userID,attr"`
	AccessToken string `xml:"accessToken,attr"`
}
