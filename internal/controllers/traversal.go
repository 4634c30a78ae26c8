package controllers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/agnivade/levenshtein"
	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
	"github.com/irodimus/plexporter/internal/snapshot"
)

// Engine walks the remote library hierarchy and invokes the selected
// operation once per visited item. It owns the run-scoped in-memory state:
// the per-kind timestamp indexes, the per-user watched maps, and the list of
// processed rating keys. Nothing here survives the run.
type Engine struct {
	plex    *plex.Client
	store   *snapshot.Store
	op      Operation
	mode    Mode
	filter  *Filter
	targets Targets
	users   []plex.User
	logger  *logrus.Logger

	// timestamps maps kind -> rating key -> previously persisted updated_at;
	// loaded lazily the first time a kind is encountered.
	timestamps map[schema.Kind]map[string]int64
	// watched maps user token -> rating key -> watch-progress marker; rebuilt
	// per library before its item loop.
	watched map[string]map[string]string

	processed []string
}

// NewEngine creates the traversal engine for one run.
func NewEngine(
	plexClient *plex.Client,
	store *snapshot.Store,
	op Operation,
	mode Mode,
	filter *Filter,
	targets Targets,
	users []plex.User,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		plex:       plexClient,
		store:      store,
		op:         op,
		mode:       mode,
		filter:     filter,
		targets:    targets,
		users:      users,
		logger:     logger,
		timestamps: map[schema.Kind]map[string]int64{},
		watched:    map[string]map[string]string{},
	}
}

// Users returns the accounts sharing the server, admin excluded.
func (e *Engine) Users() []plex.User {
	return e.users
}

// TimestampIndex returns the persisted rating-key to updated-at mapping for
// a kind, loading it from the snapshot on first use.
func (e *Engine) TimestampIndex(kind schema.Kind) (map[string]int64, error) {
	if index, ok := e.timestamps[kind]; ok {
		return index, nil
	}
	index, err := e.store.TimestampIndex(kind)
	if err != nil {
		return nil, err
	}
	e.timestamps[kind] = index
	return index, nil
}

// WatchedMarker returns the watch-progress marker recorded for a user and
// item in the current library, empty when unknown.
func (e *Engine) WatchedMarker(token, ratingKey string) string {
	return e.watched[token][ratingKey]
}

// Run enumerates the targeted libraries and items, applying the operation to
// each. It returns the rating keys of every visited item. On context
// cancellation it stops between items and returns the context error along
// with the work done so far; the caller still commits.
func (e *Engine) Run(ctx context.Context) ([]string, error) {
	sections, err := e.plex.Sections(ctx)
	if err != nil {
		return e.processed, err
	}

	matchedLibraries := 0
	libraryTitles := make([]string, 0, len(sections))

	for _, lib := range sections {
		libraryTitles = append(libraryTitles, lib.Title)
		if !e.filter.admitsLibrary(lib.Type, lib.Title) {
			continue
		}
		if containsString(e.filter.Libraries, lib.Title) {
			matchedLibraries++
		}

		e.logger.WithField("library", lib.Title).Info("Processing library")

		items, err := e.plex.SectionItems(ctx, lib.Key, url.Values{"includeGuids": {"1"}})
		if err != nil {
			e.logger.WithError(err).WithField("library", lib.Title).Warn("Failed to list library, skipping")
			continue
		}

		if e.mode == ModeExport && e.targets.WatchedStatus && (lib.Type == "movie" || lib.Type == "show") {
			e.buildWatchedMaps(ctx, lib)
		}

		switch lib.Type {
		case "movie":
			err = e.walkMovies(ctx, lib, items)
		case "show":
			err = e.walkShows(ctx, lib, items)
		case "artist":
			err = e.walkArtists(ctx, lib, items)
		default:
			e.logger.WithField("library", lib.Title).Warn("Library type not supported")
		}
		if err != nil {
			return e.processed, err
		}

		// A purely name-selected run is done once every requested library has
		// been seen; whole-kind flags keep the scan going.
		if len(e.filter.Libraries) > 0 && matchedLibraries == len(e.filter.Libraries) &&
			!e.filter.All && !e.filter.AllMovie && !e.filter.AllShow && !e.filter.AllMusic {
			break
		}
	}

	if len(e.filter.Libraries) > 0 && matchedLibraries == 0 {
		return e.processed, notFoundError("library", e.filter.Libraries[0], libraryTitles)
	}
	return e.processed, nil
}

// buildWatchedMaps fetches every shared user's view of the library once, so
// the export operation never has to issue one request per item per user.
func (e *Engine) buildWatchedMaps(ctx context.Context, lib plex.Directory) {
	typeCode := strconv.Itoa(schema.TypeCode(schema.Movie))
	if lib.Type == "show" {
		typeCode = strconv.Itoa(schema.TypeCode(schema.Episode))
	}

	for _, user := range e.users {
		items, err := e.plex.SectionItems(ctx, lib.Key, url.Values{
			"X-Plex-Token": {user.Token},
			"type":         {typeCode},
		})
		if err != nil {
			e.logger.WithError(err).WithField("user", user.ID).Warn("Failed to build watched map")
			continue
		}
		markers := make(map[string]string, len(items))
		for _, item := range items {
			markers[item.RatingKey()] = watchedMarker(item)
		}
		e.watched[user.Token] = markers
	}
}

// watchedMarker encodes one item's watch state: a millisecond offset when
// partially watched, otherwise "True"/"False" for watched/unwatched.
func watchedMarker(item plex.Item) string {
	if offset, ok := item.Int("viewOffset"); ok {
		return strconv.FormatInt(offset, 10)
	}
	if item.Has("viewCount") {
		return "True"
	}
	return "False"
}

// process runs the operation on one item and records its rating key. The
// context is checked first so an interrupt abandons the current scope
// between items.
func (e *Engine) process(ctx context.Context, kind schema.Kind, item plex.Item, libraryKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := e.op.Process(ctx, e, Scope{Kind: kind, Item: item, LibraryKey: libraryKey})
	if err != nil {
		return err
	}
	if done {
		e.processed = append(e.processed, item.RatingKey())
	}
	return nil
}

func (e *Engine) walkMovies(ctx context.Context, lib plex.Directory, items []plex.Item) error {
	requested := e.filter.Movies
	matched := 0
	titles := make([]string, 0, len(items))

	for _, movie := range items {
		titles = append(titles, movie.Title())
		if len(requested) > 0 && !containsString(requested, movie.Title()) {
			continue
		}
		matched++

		e.logger.WithField("movie", movie.Title()).Debug("Processing item")
		if err := e.process(ctx, schema.Movie, movie, lib.Key); err != nil {
			return err
		}

		if len(requested) > 0 && matched == len(requested) {
			break
		}
	}

	if len(requested) > 0 && matched == 0 {
		return notFoundError("movie", requested[0], titles)
	}
	return nil
}

func (e *Engine) walkShows(ctx context.Context, lib plex.Directory, items []plex.Item) error {
	requested := e.filter.Series
	matched := 0
	titles := make([]string, 0, len(items))

	for _, show := range items {
		titles = append(titles, show.Title())
		if len(requested) > 0 && !containsString(requested, show.Title()) {
			continue
		}
		matched++

		seasons, err := e.plex.ItemsAt(ctx, show.Key())
		if err != nil {
			e.logger.WithError(err).WithField("series", show.Title()).Warn("Failed to list seasons, skipping series")
			continue
		}
		detail, err := e.plex.ItemDetail(ctx, show.RatingKey(), false)
		if err != nil {
			e.logger.WithError(err).WithField("series", show.Title()).Warn("Failed to fetch series, skipping")
			continue
		}

		e.logger.WithField("series", show.Title()).Debug("Processing item")
		if err := e.process(ctx, schema.Show, detail, lib.Key); err != nil {
			return err
		}

		if err := e.walkSeasons(ctx, lib, seasons); err != nil {
			return err
		}
		if err := e.walkEpisodes(ctx, lib, show); err != nil {
			return err
		}

		if len(requested) > 0 && matched == len(requested) {
			break
		}
	}

	if len(requested) > 0 && matched == 0 {
		return notFoundError("series", requested[0], titles)
	}
	return nil
}

func (e *Engine) walkSeasons(ctx context.Context, lib plex.Directory, seasons []plex.Item) error {
	requested := e.filter.SeasonNumbers
	matched := 0

	for _, season := range seasons {
		number, _ := season.Int("index")
		if len(requested) > 0 && !containsInt(requested, int(number)) {
			continue
		}
		matched++

		if err := e.process(ctx, schema.Season, season, lib.Key); err != nil {
			return err
		}

		if len(requested) > 0 && matched == len(requested) {
			break
		}
	}

	if len(requested) > 0 && matched == 0 {
		return fmt.Errorf("season %d not found", requested[0])
	}
	return nil
}

func (e *Engine) walkEpisodes(ctx context.Context, lib plex.Directory, show plex.Item) error {
	episodes, err := e.plex.ItemLeaves(ctx, show.RatingKey())
	if err != nil {
		e.logger.WithError(err).WithField("series", show.Title()).Warn("Failed to list episodes, skipping")
		return nil
	}

	matched := 0
	for _, episode := range episodes {
		seasonNumber, _ := episode.Int("parentIndex")
		episodeNumber, _ := episode.Int("index")
		if len(e.filter.SeasonNumbers) > 0 && !containsInt(e.filter.SeasonNumbers, int(seasonNumber)) {
			continue
		}
		if len(e.filter.EpisodeNumbers) > 0 && !containsInt(e.filter.EpisodeNumbers, int(episodeNumber)) {
			continue
		}
		matched++

		e.logger.WithFields(logrus.Fields{
			"season":  seasonNumber,
			"episode": episodeNumber,
			"title":   episode.Title(),
		}).Debug("Processing item")
		if err := e.process(ctx, schema.Episode, episode, lib.Key); err != nil {
			return err
		}

		if len(e.filter.EpisodeNumbers) > 0 && matched == len(e.filter.EpisodeNumbers) {
			break
		}
	}

	if len(e.filter.EpisodeNumbers) > 0 && matched == 0 {
		return fmt.Errorf("episode %d not found", e.filter.EpisodeNumbers[0])
	}
	return nil
}

func (e *Engine) walkArtists(ctx context.Context, lib plex.Directory, items []plex.Item) error {
	requested := e.filter.Artists
	matched := 0
	titles := make([]string, 0, len(items))

	for _, artist := range items {
		titles = append(titles, artist.Title())
		if len(requested) > 0 && !containsString(requested, artist.Title()) {
			continue
		}
		matched++

		albums, err := e.plex.ItemsAt(ctx, artist.Key())
		if err != nil {
			e.logger.WithError(err).WithField("artist", artist.Title()).Warn("Failed to list albums, skipping artist")
			continue
		}
		detail, err := e.plex.ItemDetail(ctx, artist.RatingKey(), false)
		if err != nil {
			e.logger.WithError(err).WithField("artist", artist.Title()).Warn("Failed to fetch artist, skipping")
			continue
		}

		e.logger.WithField("artist", artist.Title()).Debug("Processing item")
		if err := e.process(ctx, schema.Artist, detail, lib.Key); err != nil {
			return err
		}

		if err := e.walkAlbums(ctx, lib, albums); err != nil {
			return err
		}
		if err := e.walkTracks(ctx, lib, artist); err != nil {
			return err
		}

		if len(requested) > 0 && matched == len(requested) {
			break
		}
	}

	if len(requested) > 0 && matched == 0 {
		return notFoundError("artist", requested[0], titles)
	}
	return nil
}

func (e *Engine) walkAlbums(ctx context.Context, lib plex.Directory, albums []plex.Item) error {
	requested := e.filter.Albums
	matched := 0
	titles := make([]string, 0, len(albums))

	for _, album := range albums {
		titles = append(titles, album.Title())
		if len(requested) > 0 && !containsString(requested, album.Title()) {
			continue
		}
		matched++

		if err := e.process(ctx, schema.Album, album, lib.Key); err != nil {
			return err
		}

		if len(requested) > 0 && matched == len(requested) {
			break
		}
	}

	if len(requested) > 0 && matched == 0 {
		return notFoundError("album", requested[0], titles)
	}
	return nil
}

func (e *Engine) walkTracks(ctx context.Context, lib plex.Directory, artist plex.Item) error {
	tracks, err := e.plex.ItemLeaves(ctx, artist.RatingKey())
	if err != nil {
		e.logger.WithError(err).WithField("artist", artist.Title()).Warn("Failed to list tracks, skipping")
		return nil
	}

	requested := e.filter.Tracks
	matched := 0
	titles := make([]string, 0, len(tracks))

	for _, track := range tracks {
		titles = append(titles, track.Title())
		if len(e.filter.Albums) > 0 {
			parent, _ := track.Str("parentTitle")
			if !containsString(e.filter.Albums, parent) {
				continue
			}
		}
		if len(requested) > 0 && !containsString(requested, track.Title()) {
			continue
		}
		matched++

		if err := e.process(ctx, schema.Track, track, lib.Key); err != nil {
			return err
		}

		if len(requested) > 0 && matched == len(requested) {
			break
		}
	}

	if len(requested) > 0 && matched == 0 {
		return notFoundError("track", requested[0], titles)
	}
	return nil
}

// notFoundError builds the scope-not-found failure, naming the nearest
// sibling title when one is reasonably close.
func notFoundError(scope, requested string, available []string) error {
	if suggestion, ok := closestMatch(requested, available); ok {
		return fmt.Errorf("%s %q not found (closest match: %q)", scope, requested, suggestion)
	}
	return fmt.Errorf("%s %q not found", scope, requested)
}

// closestMatch returns the candidate with the smallest edit distance when
// that distance is small enough to plausibly be a typo.
func closestMatch(name string, candidates []string) (string, bool) {
	best := ""
	bestDistance := -1
	for _, candidate := range candidates {
		distance := levenshtein.ComputeDistance(name, candidate)
		if bestDistance < 0 || distance < bestDistance {
			best = candidate
			bestDistance = distance
		}
	}
	if bestDistance < 0 || bestDistance > len(name)/2+1 {
		return "", false
	}
	return best, true
}
