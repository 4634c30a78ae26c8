// Package schema declares, per media kind, the exportable metadata fields,
// the numeric type code Plex uses for that kind, and the snapshot table that
// persists it. Everything here is static lookup data.
package schema

// Kind is a Plex media category.
type Kind string

const (
	Movie   Kind = "movie"
	Show    Kind = "show"
	Season  Kind = "season"
	Episode Kind = "episode"
	Artist  Kind = "artist"
	Album   Kind = "album"
	Track   Kind = "track"
)

// IndexField is the literal name of the track-ordering field. It maps to the
// remote "index" attribute but is stored bracket-quoted because "index" is a
// reserved word in SQLite.
const IndexField = "[index]"

// Definition holds everything the engine needs to know about one media kind.
type Definition struct {
	// Fields is the ordered list of exportable metadata field names. A field
	// starting with an upper-case letter is a label list (comma-joined tag
	// names); the rest are scalars.
	Fields []string
	// TypeCode is the numeric type Plex expects in item queries and field
	// update payloads for this kind.
	TypeCode int
	// DDL creates the snapshot table for this kind if it does not exist.
	DDL string
}

var definitions = map[Kind]Definition{
	Movie: {
		Fields: []string{
			"title", "titleSort", "originalTitle",
			"originallyAvailableAt", "contentRating", "userRating",
			"studio", "tagline", "summary",
			"Genre", "Writer", "Director", "Collection",
		},
		TypeCode: 1,
		DDL: `
		CREATE TABLE IF NOT EXISTS movie (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			titleSort TEXT,
			originalTitle TEXT,
			originallyAvailableAt TEXT,
			contentRating INTEGER,
			userRating INTEGER,
			studio TEXT,
			tagline TEXT,
			summary TEXT,
			Genre TEXT,
			Writer TEXT,
			Director TEXT,
			Collection TEXT,
			watched_status TEXT,
			poster BLOB,
			art BLOB
		);`,
	},
	Show: {
		Fields: []string{
			"title", "titleSort", "originalTitle",
			"originallyAvailableAt", "contentRating", "userRating",
			"studio", "tagline", "summary",
			"Genre", "Collection",
		},
		TypeCode: 2,
		DDL: `
		CREATE TABLE IF NOT EXISTS show (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			titleSort TEXT,
			originalTitle TEXT,
			originallyAvailableAt TEXT,
			contentRating INTEGER,
			userRating INTEGER,
			studio TEXT,
			tagline TEXT,
			summary TEXT,
			Genre TEXT,
			Collection TEXT,
			poster BLOB,
			art BLOB
		);`,
	},
	Season: {
		Fields:   []string{"title", "summary"},
		TypeCode: 3,
		DDL: `
		CREATE TABLE IF NOT EXISTS season (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			summary TEXT,
			poster BLOB,
			art BLOB
		);`,
	},
	Episode: {
		Fields: []string{
			"title", "titleSort",
			"originallyAvailableAt", "contentRating", "userRating",
			"summary",
			"Writer", "Director",
		},
		TypeCode: 4,
		DDL: `
		CREATE TABLE IF NOT EXISTS episode (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			titleSort TEXT,
			originallyAvailableAt TEXT,
			contentRating INTEGER,
			userRating INTEGER,
			summary TEXT,
			Writer TEXT,
			Director TEXT,
			intro_start INTEGER,
			intro_end INTEGER,
			watched_status TEXT,
			poster BLOB,
			art BLOB
		);`,
	},
	Artist: {
		Fields: []string{
			"title", "titleSort", "summary",
			"Genre", "Style", "Mood", "Country", "Collection", "Similar",
		},
		TypeCode: 8,
		DDL: `
		CREATE TABLE IF NOT EXISTS artist (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			titleSort TEXT,
			summary TEXT,
			Genre TEXT,
			Style TEXT,
			Mood TEXT,
			Country TEXT,
			Collection TEXT,
			Similar TEXT,
			poster BLOB,
			art BLOB
		);`,
	},
	Album: {
		Fields: []string{
			"title", "titleSort",
			"originallyAvailableAt", "contentRating", "userRating",
			"studio", "summary",
			"Genre", "Style", "Mood", "Collection",
		},
		TypeCode: 9,
		DDL: `
		CREATE TABLE IF NOT EXISTS album (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			titleSort TEXT,
			originallyAvailableAt TEXT,
			contentRating INTEGER,
			userRating INTEGER,
			studio TEXT,
			summary TEXT,
			Genre TEXT,
			Style TEXT,
			Mood TEXT,
			Collection TEXT,
			poster BLOB,
			art BLOB
		);`,
	},
	Track: {
		Fields: []string{
			"title", "originalTitle",
			"contentRating", "userRating", IndexField, "parentIndex",
			"Mood",
		},
		TypeCode: 10,
		DDL: `
		CREATE TABLE IF NOT EXISTS track (
			rating_key TEXT UNIQUE,
			guid TEXT UNIQUE,
			updated_at INTEGER,
			title TEXT,
			originalTitle TEXT,
			contentRating INTEGER,
			userRating INTEGER,
			[index] INTEGER,
			parentIndex INTEGER,
			Mood TEXT
		);`,
	},
}

// Kinds lists every registered media kind.
func Kinds() []Kind {
	return []Kind{Movie, Show, Season, Episode, Artist, Album, Track}
}

// Get returns the definition for a kind. The second return value is false for
// a kind the registry does not know, which callers must treat as an internal
// error rather than skipping silently.
func Get(k Kind) (Definition, bool) {
	def, ok := definitions[k]
	return def, ok
}

// Fields returns the ordered exportable field names of a kind, or nil for an
// unknown kind.
func Fields(k Kind) []string {
	return definitions[k].Fields
}

// TypeCode returns the numeric Plex type code of a kind, or 0 for an unknown
// kind.
func TypeCode(k Kind) int {
	return definitions[k].TypeCode
}

// IsLabelList reports whether a field name denotes a label-list field. Field
// names are case-significant: an upper-case initial marks a tag list.
func IsLabelList(field string) bool {
	if field == "" {
		return false
	}
	return field[0] >= 'A' && field[0] <= 'Z'
}

// ShowKinds and MusicKinds are the nested kinds traversed under their
// respective library types, outermost first.
var (
	ShowKinds  = []Kind{Show, Season, Episode}
	MusicKinds = []Kind{Artist, Album, Track}
)
