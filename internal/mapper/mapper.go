// Package mapper translates between the hierarchical JSON representation a
// Plex server returns for an item and the flat row the snapshot stores, and
// builds the flattened field/lock payloads Plex's bulk-edit endpoint expects.
package mapper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
	"github.com/irodimus/plexporter/internal/snapshot"
)

// bookkeepingColumns are snapshot columns with no remote metadata field
// behind them; the import payload never touches them.
var bookkeepingColumns = map[string]bool{
	"poster":         true,
	"art":            true,
	"watched_status": true,
	"intro_start":    true,
	"intro_end":      true,
}

// ToRow extracts an item's identity and, when includeMetadata is set, the
// metadata fields the kind's schema names. A field the remote item does not
// carry is omitted from the row entirely, which is how "absent" stays
// distinct from "empty". Identity columns are always present; updated_at
// defaults to 0.
func ToRow(kind schema.Kind, item plex.Item, includeMetadata bool) ([]string, []interface{}, error) {
	def, ok := schema.Get(kind)
	if !ok {
		return nil, nil, fmt.Errorf("unknown media kind %q", kind)
	}

	columns := []string{"rating_key", "guid", "updated_at"}
	values := []interface{}{item.RatingKey(), item.GUID(), item.UpdatedAt()}
	if !includeMetadata {
		return columns, values, nil
	}

	for _, field := range def.Fields {
		var value interface{}
		switch {
		case schema.IsLabelList(field):
			value = strings.Join(item.Tags(field), ",")
		case field == schema.IndexField:
			n, ok := item.Int("index")
			if !ok {
				continue
			}
			value = n
		case field == "titleSort" && kind != schema.Track:
			// Plex omits titleSort when it equals the title; fall back so a
			// later import restores a usable sort title either way.
			sort, ok := item.Str("titleSort")
			if !ok {
				sort, _ = item.Str("title")
			}
			value = sort
		default:
			raw, ok := item[field]
			if !ok {
				continue
			}
			value = raw
		}
		columns = append(columns, field)
		values = append(values, value)
	}
	return columns, values, nil
}

// BuildImportPayload constructs the field/lock payload that replays a stored
// row onto the remote item. Every written field is locked so a metadata
// refresh cannot revert it. Label lists additionally remove any tag present
// remotely but not in the stored list.
//
// The remote item is the one being written to: its rating key addresses the
// payload and its current tag lists feed the removal directives.
func BuildImportPayload(kind schema.Kind, row *snapshot.Row, item plex.Item) (url.Values, error) {
	def, ok := schema.Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	payload := url.Values{
		"type":         {strconv.Itoa(def.TypeCode)},
		"id":           {item.RatingKey()},
		"thumb.locked": {"1"},
		"art.locked":   {"1"},
	}
	if kind == schema.Album {
		if parent, ok := item.Str("parentRatingKey"); ok {
			payload.Set("artist.id.value", parent)
		}
	}

	// The first three columns are identity, not metadata.
	for i, column := range row.Columns {
		if i < 3 || bookkeepingColumns[column] {
			continue
		}
		if schema.IsLabelList(column) {
			field := strings.ToLower(column)
			stored := row.String(column)
			if stored != "" {
				for offset, tag := range strings.Split(stored, ",") {
					payload.Set(fmt.Sprintf("%s[%d].tag.tag", field, offset), tag)
				}
			}
			if current := item.Tags(column); len(current) > 0 {
				payload.Set(fmt.Sprintf("%s[].tag.tag-", field), strings.Join(current, ","))
			}
			payload.Set(field+".locked", "1")
		} else {
			value, _ := row.Value(column)
			payload.Set(column+".value", formatValue(value))
			payload.Set(column+".locked", "1")
		}
	}
	return payload, nil
}

// BuildResetPayload constructs the payload that clears the locks a previous
// import left behind, without assigning any values.
func BuildResetPayload(kind schema.Kind, ratingKey string, poster, art, metadata bool) (url.Values, error) {
	def, ok := schema.Get(kind)
	if !ok {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	payload := url.Values{
		"type": {strconv.Itoa(def.TypeCode)},
		"id":   {ratingKey},
	}
	if poster {
		payload.Set("thumb.locked", "0")
	}
	if art {
		payload.Set("art.locked", "0")
	}
	if metadata {
		for _, field := range def.Fields {
			switch {
			case schema.IsLabelList(field):
				payload.Set(strings.ToLower(field)+".locked", "0")
			case field == schema.IndexField:
				payload.Set("index.locked", "0")
			default:
				payload.Set(field+".locked", "0")
			}
		}
	}
	return payload, nil
}

// formatValue renders a stored scalar the way the bulk-edit endpoint expects:
// null becomes an empty assignment, numbers lose no precision.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
