package controllers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/mapper"
	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
)

// ResetOperation clears the field locks a previous import left behind,
// without assigning any values. It is the undo for "import locks everything".
type ResetOperation struct {
	plex    *plex.Client
	targets Targets
	logger  *logrus.Logger
}

// NewResetOperation creates the reset strategy.
func NewResetOperation(plexClient *plex.Client, targets Targets, logger *logrus.Logger) *ResetOperation {
	return &ResetOperation{
		plex:    plexClient,
		targets: targets,
		logger:  logger,
	}
}

// Process unlocks every field this run is configured to touch on one item.
func (o *ResetOperation) Process(ctx context.Context, _ *Engine, scope Scope) (bool, error) {
	if _, ok := schema.Get(scope.Kind); !ok {
		return false, fmt.Errorf("unknown media kind %q during reset (internal error)", scope.Kind)
	}

	payload, err := mapper.BuildResetPayload(
		scope.Kind, scope.Item.RatingKey(),
		o.targets.Poster, o.targets.Art, o.targets.Metadata)
	if err != nil {
		return false, err
	}

	if err := o.plex.PutItemFields(ctx, scope.LibraryKey, payload); err != nil {
		o.logger.WithError(err).WithField("rating_key", scope.Item.RatingKey()).Warn("Failed to unlock fields")
	}
	return true, nil
}
