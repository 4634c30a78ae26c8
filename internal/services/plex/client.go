package plex

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/config"
)

const (
	plexTVURL          = "https://plex.tv"
	scrobbleIdentifier = "com.plexapp.plugins.library"
)

// Client handles communication with a Plex Media Server
type Client struct {
	baseURL     string
	plexTVURL   string
	token       string
	httpClient  *http.Client
	detailCache *cache.Cache
	logger      *logrus.Logger
}

// NewClient creates a new Plex API client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.PlexBaseURL == "" {
		return nil, fmt.Errorf("plex base URL is required")
	}
	if cfg.PlexToken == "" {
		return nil, fmt.Errorf("plex token is required")
	}

	return &Client{
		baseURL:   cfg.PlexBaseURL,
		plexTVURL: plexTVURL,
		token:     cfg.PlexToken,
		// Item details are fetched during traversal and again inside the
		// per-item operation; a short-lived cache collapses the duplicate.
		detailCache: cache.New(5*time.Minute, 10*time.Minute),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}, nil
}

// get performs an authenticated GET with bounded retries on transport errors
// and server-side failures. Client-side statuses are returned immediately so
// callers can degrade (skip an asset, skip an item) without waiting out the
// retry schedule.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("X-Plex-Token") == "" {
		params.Set("X-Plex-Token", c.token)
	}
	fullURL := rawURL + "?" + params.Encode()

	c.logger.WithField("url", rawURL).Debug("Making Plex API request")

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("request failed with status %d", resp.StatusCode))
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// getJSON performs a GET and decodes the MediaContainer envelope.
func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values) (*mediaContainer, error) {
	body, err := c.get(ctx, rawURL, params)
	if err != nil {
		return nil, err
	}
	var envelope container
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &envelope.MediaContainer, nil
}

// send performs a bodyless authenticated request (PUT/POST with query-string
// payloads), without retries.
func (c *Client) send(ctx context.Context, method, rawURL string, params url.Values, body []byte) error {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("X-Plex-Token") == "" {
		params.Set("X-Plex-Token", c.token)
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL+"?"+params.Encode(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed with status %d: %s", method, rawURL, resp.StatusCode, string(respBody))
	}
	return nil
}

// Sections lists the server's library sections.
func (c *Client) Sections(ctx context.Context) ([]Directory, error) {
	mc, err := c.getJSON(ctx, c.baseURL+"/library/sections", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list library sections: %w", err)
	}
	return mc.Directory, nil
}

// SectionItems lists a section's items. Callers pass filters (type code,
// includeGuids, feature flags like hdr, a per-user token) through params.
func (c *Client) SectionItems(ctx context.Context, sectionKey string, params url.Values) ([]Item, error) {
	mc, err := c.getJSON(ctx, fmt.Sprintf("%s/library/sections/%s/all", c.baseURL, sectionKey), params)
	if err != nil {
		return nil, fmt.Errorf("failed to list section %s: %w", sectionKey, err)
	}
	return mc.Metadata, nil
}

// ItemDetail fetches one item's full metadata. Section listings return a
// reduced projection, so operations that need every field or the markers have
// to fetch the item again. Responses are cached briefly.
func (c *Client) ItemDetail(ctx context.Context, ratingKey string, includeMarkers bool) (Item, error) {
	cacheKey := ratingKey
	if includeMarkers {
		cacheKey += "+markers"
	}
	if cached, found := c.detailCache.Get(cacheKey); found {
		return cached.(Item), nil
	}

	params := url.Values{"includeGuids": {"1"}}
	if includeMarkers {
		params.Set("includeMarkers", "1")
	}
	mc, err := c.getJSON(ctx, fmt.Sprintf("%s/library/metadata/%s", c.baseURL, ratingKey), params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", ratingKey, err)
	}
	if len(mc.Metadata) == 0 {
		return nil, fmt.Errorf("item %s not found", ratingKey)
	}
	c.detailCache.Set(cacheKey, mc.Metadata[0], cache.DefaultExpiration)
	return mc.Metadata[0], nil
}

// ItemsAt lists the items behind a children path taken from an item's key
// attribute (a show's seasons, an artist's albums).
func (c *Client) ItemsAt(ctx context.Context, path string) ([]Item, error) {
	mc, err := c.getJSON(ctx, c.baseURL+path, url.Values{"includeGuids": {"1"}})
	if err != nil {
		return nil, fmt.Errorf("failed to list children at %s: %w", path, err)
	}
	return mc.Metadata, nil
}

// ItemLeaves lists every leaf under an item: all episodes of a show, all
// tracks of an artist.
func (c *Client) ItemLeaves(ctx context.Context, ratingKey string) ([]Item, error) {
	mc, err := c.getJSON(ctx, fmt.Sprintf("%s/library/metadata/%s/allLeaves", c.baseURL, ratingKey),
		url.Values{"includeGuids": {"1"}})
	if err != nil {
		return nil, fmt.Errorf("failed to list leaves of %s: %w", ratingKey, err)
	}
	return mc.Metadata, nil
}

// FetchAsset downloads a binary asset (poster, art) by the path the item's
// representation advertises.
func (c *Client) FetchAsset(ctx context.Context, path string) ([]byte, error) {
	return c.get(ctx, c.baseURL+path, nil)
}

// PostAsset uploads poster or art bytes to an item. Kind is "posters" or
// "arts".
func (c *Client) PostAsset(ctx context.Context, ratingKey, kind string, data []byte) error {
	return c.send(ctx, http.MethodPost,
		fmt.Sprintf("%s/library/metadata/%s/%s", c.baseURL, ratingKey, kind), nil, data)
}

// PutItemFields applies a flattened field/lock payload to an item through its
// section's bulk-edit endpoint.
func (c *Client) PutItemFields(ctx context.Context, sectionKey string, payload url.Values) error {
	return c.send(ctx, http.MethodPut,
		fmt.Sprintf("%s/library/sections/%s/all", c.baseURL, sectionKey), payload, nil)
}

// Scrobble marks an item watched for the account owning the token.
func (c *Client) Scrobble(ctx context.Context, ratingKey, userToken string) error {
	_, err := c.get(ctx, c.baseURL+"/:/scrobble", url.Values{
		"identifier":   {scrobbleIdentifier},
		"key":          {ratingKey},
		"X-Plex-Token": {userToken},
	})
	return err
}

// Unscrobble marks an item unwatched for the account owning the token.
func (c *Client) Unscrobble(ctx context.Context, ratingKey, userToken string) error {
	_, err := c.get(ctx, c.baseURL+"/:/unscrobble", url.Values{
		"identifier":   {scrobbleIdentifier},
		"key":          {ratingKey},
		"X-Plex-Token": {userToken},
	})
	return err
}

// SetProgress marks an item partially watched at the given offset for the
// account owning the token.
func (c *Client) SetProgress(ctx context.Context, ratingKey, userToken string, offset int64) error {
	_, err := c.get(ctx, c.baseURL+"/:/progress", url.Values{
		"identifier":   {scrobbleIdentifier},
		"key":          {ratingKey},
		"time":         {strconv.FormatInt(offset, 10)},
		"state":        {"stopped"},
		"X-Plex-Token": {userToken},
	})
	return err
}

// MachineID returns the server's machine identifier.
func (c *Client) MachineID(ctx context.Context) (string, error) {
	mc, err := c.getJSON(ctx, c.baseURL+"/", nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch server identity: %w", err)
	}
	if mc.MachineIdentifier == "" {
		return "", fmt.Errorf("server did not report a machine identifier")
	}
	return mc.MachineIdentifier, nil
}

// Preference returns the value of one server preference by id.
func (c *Client) Preference(ctx context.Context, id string) (string, error) {
	mc, err := c.getJSON(ctx, c.baseURL+"/:/prefs", nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch server preferences: %w", err)
	}
	for _, setting := range mc.Setting {
		if setting.ID == id {
			return setting.Value, nil
		}
	}
	return "", fmt.Errorf("server preference %q not found", id)
}

// SharedUsers enumerates the accounts sharing this server, with the access
// token each uses. The plex.tv listing is XML-only.
func (c *Client) SharedUsers(ctx context.Context) ([]User, error) {
	machineID, err := c.MachineID(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/api/servers/%s/shared_servers", c.plexTVURL, machineID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared servers: %w", err)
	}

	var response sharedServersResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse shared servers response: %w", err)
	}

	users := make([]User, 0, len(response.SharedServers))
	for _, server := range response.SharedServers {
		users = append(users, User{ID: server.UserID, Token: server.AccessToken})
	}
	return users, nil
}

// OptimizeItem queues a transcoder job producing an SDR rendition of the
// item, matching what the desktop client's "Optimize" action submits.
func (c *Client) OptimizeItem(ctx context.Context, ratingKey string) error {
	return c.send(ctx, http.MethodPut,
		fmt.Sprintf("%s/library/metadata/%s/media/optimize", c.baseURL, ratingKey),
		url.Values{
			"target":     {"tv"},
			"locationID": {"-1"},
		}, nil)
}
