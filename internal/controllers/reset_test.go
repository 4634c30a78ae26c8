package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestResetUnlocksFields(t *testing.T) {
	var puts []url.Values
	client := testPlexClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/library/sections":
			fmt.Fprint(w, `{"MediaContainer":{"Directory":[{"key":"1","type":"movie","title":"Films"}]}}`)
		case r.URL.Path == "/library/sections/1/all" && r.Method == http.MethodPut:
			puts = append(puts, r.URL.Query())
		case r.URL.Path == "/library/sections/1/all":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"101","title":"Heat","updatedAt":100,"Guid":[{"id":"imdb://a"}]}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	targets := Targets{Metadata: true, Poster: true}
	op := NewResetOperation(client, targets, testLogger())
	engine := NewEngine(client, nil, op, ModeReset,
		&Filter{AllMovie: true}, targets, nil, testLogger())

	processed, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(processed) != 1 || processed[0] != "101" {
		t.Errorf("unexpected processed set: %v", processed)
	}

	if len(puts) != 1 {
		t.Fatalf("expected one field update, got %d", len(puts))
	}
	put := puts[0]
	if put.Get("id") != "101" || put.Get("type") != "1" {
		t.Errorf("payload must address the item: %v", put)
	}
	if put.Get("thumb.locked") != "0" {
		t.Error("poster lock must be cleared")
	}
	if put.Has("art.locked") {
		t.Error("art was not selected")
	}
	if put.Get("title.locked") != "0" || put.Get("genre.locked") != "0" {
		t.Errorf("metadata locks must be cleared: %v", put)
	}
	for key := range put {
		if strings.HasSuffix(key, ".value") {
			t.Errorf("reset must not assign values, found %s", key)
		}
	}
}
