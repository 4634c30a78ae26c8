package controllers

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
)

// OptimizerController finds HDR media with no SDR rendition yet and enqueues
// an optimize job for each, up to an optional limit. It holds no state
// between runs.
type OptimizerController struct {
	plex   *plex.Client
	filter *Filter
	limit  int
	logger *logrus.Logger
}

// NewOptimizerController creates the optimizer. A negative limit means
// unlimited.
func NewOptimizerController(plexClient *plex.Client, filter *Filter, limit int, logger *logrus.Logger) *OptimizerController {
	return &OptimizerController{
		plex:   plexClient,
		filter: filter,
		limit:  limit,
		logger: logger,
	}
}

// Run walks the targeted movie and show libraries, asking the server for HDR
// items only, and submits an optimize job for every item that has no
// optimized version yet. It returns the rating keys of the queued items.
func (c *OptimizerController) Run(ctx context.Context) ([]string, error) {
	sections, err := c.plex.Sections(ctx)
	if err != nil {
		return nil, err
	}

	var queued []string
	for _, lib := range sections {
		if lib.Type != "movie" && lib.Type != "show" {
			continue
		}
		if !c.filter.admitsLibrary(lib.Type, lib.Title) {
			continue
		}

		c.logger.WithField("library", lib.Title).Info("Scanning library for HDR media")

		// The server filters HDR for us; episodes need the leaf type code.
		params := url.Values{"hdr": {"1"}}
		if lib.Type == "show" {
			params = url.Values{
				"episode.hdr": {"1"},
				"type":        {strconv.Itoa(schema.TypeCode(schema.Episode))},
			}
		}
		items, err := c.plex.SectionItems(ctx, lib.Key, params)
		if err != nil {
			c.logger.WithError(err).WithField("library", lib.Title).Warn("Failed to list library, skipping")
			continue
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return queued, err
			}
			if c.limit >= 0 && len(queued) == c.limit {
				c.logger.Info("Optimize limit reached")
				return queued, nil
			}
			if !c.matchesItem(lib.Type, item) {
				continue
			}

			optimized, err := c.hasOptimizedVersion(ctx, item)
			if err != nil {
				c.logger.WithError(err).WithField("rating_key", item.RatingKey()).Warn("Failed to check versions, skipping")
				continue
			}
			if optimized {
				continue
			}

			c.logger.WithField("title", item.Title()).Info("Queueing SDR version")
			if err := c.plex.OptimizeItem(ctx, item.RatingKey()); err != nil {
				c.logger.WithError(err).WithField("rating_key", item.RatingKey()).Warn("Failed to queue optimize job")
				continue
			}
			queued = append(queued, item.RatingKey())
		}
	}
	return queued, nil
}

// matchesItem applies the name/number selectors to one listed item.
func (c *OptimizerController) matchesItem(libType string, item plex.Item) bool {
	if libType == "movie" {
		return len(c.filter.Movies) == 0 || containsString(c.filter.Movies, item.Title())
	}

	// Show listings with the episode type code return episodes directly.
	if len(c.filter.Series) > 0 {
		series, _ := item.Str("grandparentTitle")
		if !containsString(c.filter.Series, series) {
			return false
		}
	}
	if len(c.filter.SeasonNumbers) > 0 {
		season, _ := item.Int("parentIndex")
		if !containsInt(c.filter.SeasonNumbers, int(season)) {
			return false
		}
	}
	if len(c.filter.EpisodeNumbers) > 0 {
		number, _ := item.Int("index")
		if !containsInt(c.filter.EpisodeNumbers, int(number)) {
			return false
		}
	}
	return true
}

// hasOptimizedVersion reports whether any of the item's media versions was
// produced by the optimizer, which the server titles "Optimized for ...".
func (c *OptimizerController) hasOptimizedVersion(ctx context.Context, item plex.Item) (bool, error) {
	detail, err := c.plex.ItemDetail(ctx, item.RatingKey(), false)
	if err != nil {
		return false, err
	}
	versions, _ := detail["Media"].([]interface{})
	for _, version := range versions {
		m, ok := version.(map[string]interface{})
		if !ok {
			continue
		}
		if title, ok := m["title"].(string); ok && strings.HasPrefix(title, "Optimized for ") {
			return true, nil
		}
	}
	return false, nil
}
