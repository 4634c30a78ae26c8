package controllers

import (
	"context"
	"fmt"

	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
)

// Mode selects which operation a run performs.
type Mode string

const (
	ModeExport Mode = "export"
	ModeImport Mode = "import"
	ModeReset  Mode = "reset"
)

// ParseMode validates the mode flag.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeExport, ModeImport, ModeReset:
		return Mode(value), nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be export, import or reset", value)
	}
}

// Targets is the set of item aspects a run processes, parsed from the
// repeatable process flag.
type Targets struct {
	Metadata      bool
	WatchedStatus bool
	Poster        bool
	EpisodePoster bool
	Art           bool
	EpisodeArt    bool
	IntroMarkers  bool
}

// ParseTargets resolves the process selections. An unknown selection is a
// configuration error.
func ParseTargets(process []string) (Targets, error) {
	var t Targets
	for _, entry := range process {
		switch entry {
		case "metadata":
			t.Metadata = true
		case "watched_status":
			t.WatchedStatus = true
		case "poster":
			t.Poster = true
		case "episode_poster":
			t.EpisodePoster = true
		case "art":
			t.Art = true
		case "episode_art":
			t.EpisodeArt = true
		case "intro_marker":
			t.IntroMarkers = true
		default:
			return Targets{}, fmt.Errorf("invalid process selection %q", entry)
		}
	}
	return t, nil
}

// wantsPoster reports whether this run stores or replays the poster of the
// given kind; episodes have their own toggle since episode posters multiply
// the asset volume.
func (t Targets) wantsPoster(kind schema.Kind) bool {
	if kind == schema.Episode {
		return t.EpisodePoster
	}
	return t.Poster && kind != schema.Track
}

// wantsArt is the art counterpart of wantsPoster.
func (t Targets) wantsArt(kind schema.Kind) bool {
	if kind == schema.Episode {
		return t.EpisodeArt
	}
	return t.Art && kind != schema.Track
}

// Scope is the per-item contract input: the item being visited, its kind,
// and the library section it was reached through.
type Scope struct {
	Kind       schema.Kind
	Item       plex.Item
	LibraryKey string
}

// Operation is one of the three interchangeable per-item strategies. The
// engine invokes it once per visited item. The boolean reports whether the
// item was actually processed; change detection and missing identities make
// it false, keeping skipped items out of the run result. A returned error
// aborts the run (transient per-item failures are absorbed inside the
// operation instead).
type Operation interface {
	Process(ctx context.Context, run *Engine, scope Scope) (bool, error)
}
