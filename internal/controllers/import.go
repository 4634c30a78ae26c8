package controllers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/mapper"
	"github.com/irodimus/plexporter/internal/markers"
	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
	"github.com/irodimus/plexporter/internal/snapshot"
)

// ImportOperation replays snapshot rows onto the remote server. Rows are
// matched by GUID, never by rating key, so a snapshot taken on one server
// imports cleanly onto another.
type ImportOperation struct {
	store      *snapshot.Store
	plex       *plex.Client
	targets    Targets
	adminToken string
	// markerWriter is non-nil only when intro-marker replay was requested and
	// the privileged database path is available.
	markerWriter markers.Writer
	logger       *logrus.Logger
}

// NewImportOperation creates the import strategy. markerWriter may be nil
// when intro markers are not being replayed.
func NewImportOperation(
	store *snapshot.Store,
	plexClient *plex.Client,
	targets Targets,
	adminToken string,
	markerWriter markers.Writer,
	logger *logrus.Logger,
) *ImportOperation {
	return &ImportOperation{
		store:        store,
		plex:         plexClient,
		targets:      targets,
		adminToken:   adminToken,
		markerWriter: markerWriter,
		logger:       logger,
	}
}

// Process imports one item. An item with no snapshot row for its GUID is
// silently skipped: there is simply nothing recorded for it.
func (o *ImportOperation) Process(ctx context.Context, run *Engine, scope Scope) (bool, error) {
	if _, ok := schema.Get(scope.Kind); !ok {
		return false, fmt.Errorf("unknown media kind %q during import (internal error)", scope.Kind)
	}
	if !scope.Item.HasGUID() {
		return false, nil
	}

	ratingKey := scope.Item.RatingKey()

	media := scope.Item
	if o.targets.Metadata && scope.Kind != schema.Season {
		detail, err := o.plex.ItemDetail(ctx, ratingKey, true)
		if err != nil {
			o.logger.WithError(err).WithField("rating_key", ratingKey).Debug("Detail fetch failed, skipping item")
			return false, nil
		}
		media = detail
	}

	row, err := o.store.FindByGUID(scope.Kind, media.GUID())
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	if o.targets.Metadata {
		payload, err := mapper.BuildImportPayload(scope.Kind, row, media)
		if err != nil {
			return false, err
		}
		if err := o.plex.PutItemFields(ctx, scope.LibraryKey, payload); err != nil {
			o.logger.WithError(err).WithField("rating_key", ratingKey).Warn("Failed to write metadata fields")
		}
	}

	if o.targets.wantsPoster(scope.Kind) {
		if poster := row.Bytes("poster"); len(poster) > 0 {
			if err := o.plex.PostAsset(ctx, ratingKey, "posters", poster); err != nil {
				o.logger.WithError(err).WithField("rating_key", ratingKey).Warn("Failed to upload poster")
			}
		}
	}
	if o.targets.wantsArt(scope.Kind) {
		if art := row.Bytes("art"); len(art) > 0 {
			if err := o.plex.PostAsset(ctx, ratingKey, "arts", art); err != nil {
				o.logger.WithError(err).WithField("rating_key", ratingKey).Warn("Failed to upload art")
			}
		}
	}

	if o.targets.WatchedStatus {
		if _, ok := row.Value("watched_status"); ok {
			o.replayWatchedState(ctx, run, ratingKey, row.String("watched_status"))
		}
	}

	if o.targets.IntroMarkers && o.markerWriter != nil {
		if err := o.replayIntroMarker(row, ratingKey); err != nil {
			return false, err
		}
	}

	return true, nil
}

// replayWatchedState decodes the persisted per-user watch list and issues
// the matching watched/unwatched/progress call for each account. Unknown
// users (no longer sharing the server) are skipped.
func (o *ImportOperation) replayWatchedState(ctx context.Context, run *Engine, ratingKey, encoded string) {
	parts := strings.Split(encoded, ",")
	for i := 0; i+1 < len(parts); i += 2 {
		userID, state := parts[i], parts[i+1]

		token := ""
		if userID == "_admin" {
			token = o.adminToken
		} else {
			for _, user := range run.Users() {
				if user.ID == userID {
					token = user.Token
					break
				}
			}
		}
		if token == "" {
			continue
		}

		var err error
		switch {
		case state == "True":
			err = o.plex.Scrobble(ctx, ratingKey, token)
		case state == "False":
			err = o.plex.Unscrobble(ctx, ratingKey, token)
		default:
			offset, parseErr := strconv.ParseInt(state, 10, 64)
			if parseErr != nil {
				continue
			}
			err = o.plex.SetProgress(ctx, ratingKey, token, offset)
		}
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"rating_key": ratingKey,
				"user":       userID,
			}).Warn("Failed to replay watched state")
		}
	}
}

// replayIntroMarker pushes stored intro offsets straight into the server's
// own database: insert when the item has no intro row yet, otherwise rewrite
// only the offsets.
func (o *ImportOperation) replayIntroMarker(row *snapshot.Row, ratingKey string) error {
	start, startOK := row.Int64("intro_start")
	end, endOK := row.Int64("intro_end")
	if !startOK || !endOK {
		return nil
	}

	exists, err := o.markerWriter.FindIntro(ratingKey)
	if err != nil {
		return err
	}
	if exists {
		return o.markerWriter.UpdateIntroOffsets(ratingKey, start, end)
	}
	return o.markerWriter.InsertIntro(ratingKey, start, end)
}
