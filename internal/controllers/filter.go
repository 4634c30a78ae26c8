package controllers

import (
	"fmt"
)

// Filter selects which libraries and which items inside them a run touches.
// Selectors nest: a season number only means something under a series, an
// episode number only under a season, and likewise for albums and tracks.
type Filter struct {
	All      bool
	AllMovie bool
	AllShow  bool
	AllMusic bool

	Libraries []string

	Movies []string

	Series         []string
	SeasonNumbers  []int
	EpisodeNumbers []int

	Artists []string
	Albums  []string
	Tracks  []string
}

// Validate rejects contradictory selector combinations before any remote
// call is made.
func (f *Filter) Validate() error {
	if f.All {
		if f.AllMovie || f.AllShow || f.AllMusic ||
			len(f.Libraries) > 0 || len(f.Movies) > 0 ||
			len(f.Series) > 0 || len(f.SeasonNumbers) > 0 || len(f.EpisodeNumbers) > 0 ||
			len(f.Artists) > 0 || len(f.Albums) > 0 || len(f.Tracks) > 0 {
			return fmt.Errorf("can't combine the \"all\" target specifier with any other target specifier")
		}
		return nil
	}

	if !f.AllMovie && !f.AllShow && !f.AllMusic && len(f.Libraries) == 0 {
		return fmt.Errorf("either have to select all libraries of a type or supply library names")
	}

	switch {
	case len(f.Series) > 1:
		if len(f.SeasonNumbers) > 0 {
			return fmt.Errorf("can't give season numbers for multiple series")
		}
		if len(f.EpisodeNumbers) > 0 {
			return fmt.Errorf("can't give episode numbers for multiple series")
		}
	case len(f.Series) == 1:
		if len(f.EpisodeNumbers) > 0 {
			if len(f.SeasonNumbers) == 0 {
				return fmt.Errorf("can't give episode numbers without specifying a season number")
			}
			if len(f.SeasonNumbers) > 1 {
				return fmt.Errorf("can't give episode numbers with multiple seasons")
			}
		}
	default:
		if len(f.SeasonNumbers) > 0 {
			return fmt.Errorf("can't give season numbers without specifying a series")
		}
		if len(f.EpisodeNumbers) > 0 {
			return fmt.Errorf("can't give episode numbers without specifying a series")
		}
	}

	switch {
	case len(f.Artists) > 1:
		if len(f.Albums) > 0 {
			return fmt.Errorf("can't give album names for multiple artists")
		}
		if len(f.Tracks) > 0 {
			return fmt.Errorf("can't give track names for multiple artists")
		}
	case len(f.Artists) == 1:
		if len(f.Tracks) > 0 && len(f.Albums) == 0 {
			return fmt.Errorf("can't give track names without specifying an album name")
		}
	default:
		if len(f.Albums) > 0 {
			return fmt.Errorf("can't give album names without specifying an artist")
		}
		if len(f.Tracks) > 0 {
			return fmt.Errorf("can't give track names without specifying an artist")
		}
	}

	return nil
}

// admitsLibrary decides whether a section is in scope. Whole-kind flags and
// named libraries are a union: a library is processed when any one of them
// admits it.
func (f *Filter) admitsLibrary(libType, title string) bool {
	if f.All {
		return true
	}
	if f.AllMovie && libType == "movie" {
		return true
	}
	if f.AllShow && libType == "show" {
		return true
	}
	if f.AllMusic && libType == "artist" {
		return true
	}
	return containsString(f.Libraries, title)
}

func containsString(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}

func containsInt(list []int, value int) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}
