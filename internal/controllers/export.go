package controllers

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/mapper"
	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
	"github.com/irodimus/plexporter/internal/snapshot"
)

// ExportOperation persists remote metadata, assets and watch state into the
// snapshot. Items whose remote timestamp matches the snapshot are skipped
// without any further remote traffic.
type ExportOperation struct {
	store   *snapshot.Store
	plex    *plex.Client
	targets Targets
	logger  *logrus.Logger
}

// NewExportOperation creates the export strategy.
func NewExportOperation(store *snapshot.Store, plexClient *plex.Client, targets Targets, logger *logrus.Logger) *ExportOperation {
	return &ExportOperation{
		store:   store,
		plex:    plexClient,
		targets: targets,
		logger:  logger,
	}
}

// Process exports one item. Change detection runs first: an unchanged item
// costs nothing beyond the timestamp lookup, a changed one is replaced by
// delete-then-insert. Asset and detail fetch failures degrade to omitting
// that piece rather than failing the run.
func (o *ExportOperation) Process(ctx context.Context, run *Engine, scope Scope) (bool, error) {
	if _, ok := schema.Get(scope.Kind); !ok {
		return false, fmt.Errorf("unknown media kind %q during export (internal error)", scope.Kind)
	}

	ratingKey := scope.Item.RatingKey()

	index, err := run.TimestampIndex(scope.Kind)
	if err != nil {
		return false, err
	}
	if previous, found := index[ratingKey]; found {
		if previous == scope.Item.UpdatedAt() {
			return false, nil
		}
		if err := o.store.DeleteByRatingKey(scope.Kind, ratingKey); err != nil {
			return false, err
		}
	}

	// An item with no GUID can never be matched on a later run or import.
	if !scope.Item.HasGUID() {
		return false, nil
	}

	media := scope.Item
	needDetail := (o.targets.Metadata && scope.Kind != schema.Season) ||
		(o.targets.IntroMarkers && scope.Kind == schema.Episode)
	if needDetail {
		// Section listings return a reduced projection; the full record (and
		// the markers) only come from the item endpoint.
		detail, err := o.plex.ItemDetail(ctx, ratingKey, true)
		if err != nil {
			o.logger.WithError(err).WithField("rating_key", ratingKey).Debug("Detail fetch failed, skipping item")
			return false, nil
		}
		media = detail
	}

	columns, values, err := mapper.ToRow(scope.Kind, media, o.targets.Metadata)
	if err != nil {
		return false, err
	}

	if o.targets.WatchedStatus && (scope.Kind == schema.Movie || scope.Kind == schema.Episode) {
		entries := []string{"_admin", watchedMarker(media)}
		for _, user := range run.Users() {
			entries = append(entries, user.ID, run.WatchedMarker(user.Token, ratingKey))
		}
		columns = append(columns, "watched_status")
		values = append(values, strings.Join(entries, ","))
	}

	if o.targets.IntroMarkers && scope.Kind == schema.Episode {
		for _, marker := range media.Markers() {
			if marker.Type == "intro" {
				columns = append(columns, "intro_start", "intro_end")
				values = append(values, marker.StartTimeOffset, marker.EndTimeOffset)
				break
			}
		}
	}

	if o.targets.wantsPoster(scope.Kind) {
		if path, ok := media.Str("thumb"); ok {
			if data, err := o.plex.FetchAsset(ctx, path); err == nil {
				columns = append(columns, "poster")
				values = append(values, data)
			} else {
				o.logger.WithError(err).WithField("rating_key", ratingKey).Debug("Poster fetch failed, omitting")
			}
		}
	}
	if o.targets.wantsArt(scope.Kind) {
		if path, ok := media.Str("art"); ok {
			if data, err := o.plex.FetchAsset(ctx, path); err == nil {
				columns = append(columns, "art")
				values = append(values, data)
			} else {
				o.logger.WithError(err).WithField("rating_key", ratingKey).Debug("Art fetch failed, omitting")
			}
		}
	}

	if err := o.store.Insert(scope.Kind, columns, values); err != nil {
		return false, err
	}
	return true, nil
}
