package controllers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func optimizerHandler(queued *[]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library/sections":
			fmt.Fprint(w, `{"MediaContainer":{"Directory":[
				{"key":"1","type":"movie","title":"Films"},
				{"key":"3","type":"show","title":"TV"},
				{"key":"5","type":"artist","title":"Music"}]}}`)
		case "/library/sections/1/all":
			if r.URL.Query().Get("hdr") != "1" {
				http.Error(w, "expected hdr filter", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"101","title":"Dune"},
				{"ratingKey":"102","title":"Blade Runner 2049"}]}}`)
		case "/library/sections/3/all":
			if r.URL.Query().Get("episode.hdr") != "1" || r.URL.Query().Get("type") != "4" {
				http.Error(w, "expected episode hdr filter", http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"311","title":"Pilot","grandparentTitle":"Foundation","parentIndex":1,"index":1}]}}`)
		case "/library/sections/5/all":
			http.Error(w, "music libraries must not be scanned", http.StatusBadRequest)
		case "/library/metadata/101":
			// Already has an SDR rendition.
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"101","title":"Dune","Media":[
					{"id":1},
					{"id":2,"title":"Optimized for TV"}]}]}}`)
		case "/library/metadata/102":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"102","title":"Blade Runner 2049","Media":[{"id":3}]}]}}`)
		case "/library/metadata/311":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"311","title":"Pilot","Media":[{"id":4}]}]}}`)
		case "/library/metadata/102/media/optimize", "/library/metadata/311/media/optimize":
			*queued = append(*queued, r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestOptimizerQueuesUnoptimizedHDR(t *testing.T) {
	var optimizeCalls []string
	client := testPlexClient(t, optimizerHandler(&optimizeCalls))

	controller := NewOptimizerController(client, &Filter{All: true}, -1, testLogger())
	queued, err := controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 101 is skipped (already optimized), 102 and 311 are queued.
	if len(queued) != 2 || queued[0] != "102" || queued[1] != "311" {
		t.Errorf("unexpected queued set: %v", queued)
	}
	if len(optimizeCalls) != 2 {
		t.Errorf("expected two optimize submissions, got %v", optimizeCalls)
	}
}

func TestOptimizerRespectsLimit(t *testing.T) {
	var optimizeCalls []string
	client := testPlexClient(t, optimizerHandler(&optimizeCalls))

	controller := NewOptimizerController(client, &Filter{All: true}, 1, testLogger())
	queued, err := controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(queued) != 1 {
		t.Errorf("limit must cap submissions, got %v", queued)
	}
}

func TestOptimizerEpisodeSelectors(t *testing.T) {
	var optimizeCalls []string
	client := testPlexClient(t, optimizerHandler(&optimizeCalls))

	controller := NewOptimizerController(client,
		&Filter{AllShow: true, Series: []string{"Severance"}}, -1, testLogger())
	queued, err := controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(queued) != 0 {
		t.Errorf("episode from another series must not be queued, got %v", queued)
	}

	controller = NewOptimizerController(client,
		&Filter{AllShow: true, Series: []string{"Foundation"}, SeasonNumbers: []int{1}, EpisodeNumbers: []int{1}},
		-1, testLogger())
	queued, err = controller.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(queued) != 1 || queued[0] != "311" {
		t.Errorf("matching episode must be queued, got %v", queued)
	}
}
