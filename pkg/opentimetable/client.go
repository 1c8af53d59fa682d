// Package opentimetable is a client for the opentimetable.dcu.ie broker API.
//
// The API is category-driven: a course code is first resolved to a category
// identity, then events are fetched with a filter body derived from an
// embedded request template.
package opentimetable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL        = "https://opentimetable.dcu.ie"
	DefaultAuthorization  = "basic T64Mdy7m["
	DefaultOrigin         = "https://opentimetable.dcu.ie/"
	DefaultCategoryTypeID = "241e4d36-60e0-49f8-b27e-99416745d98d"
)

type Config struct {
	BaseURL        string
	Authorization  string
	Origin         string
	Referer        string
	CategoryTypeID string
	Timeout        time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = DefaultBaseURL
	}
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.Authorization == "" {
		out.Authorization = DefaultAuthorization
	}
	if out.Origin == "" {
		out.Origin = DefaultOrigin
	}
	if out.Referer == "" {
		out.Referer = out.Origin
	}
	if out.CategoryTypeID == "" {
		out.CategoryTypeID = DefaultCategoryTypeID
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	return out
}

// StatusError reports a non-2xx broker response.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("opentimetable %s: unexpected status %d", e.Endpoint, e.Code)
}

// Event is one timetabled slot as returned by the events filter.
type Event struct {
	Start    time.Time
	End      time.Time
	Label    string // module name, first extra property
	Location string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	c := cfg.withDefaults()
	return &Client{cfg: c, http: &http.Client{Timeout: c.Timeout}}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.cfg.Authorization)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("credentials", "include")
	req.Header.Set("Origin", c.cfg.Origin)
	req.Header.Set("Referer", c.cfg.Referer)
}

// ResolveCategory resolves a course code (e.g. "CASE3") to its category
// identity via the name filter endpoint.
func (c *Client) ResolveCategory(ctx context.Context, course string) (string, error) {
	u := fmt.Sprintf("%s/broker/api/CategoryTypes/%s/Categories/Filter?pageNumber=1&query=%s",
		c.cfg.BaseURL, c.cfg.CategoryTypeID, url.QueryEscape(course))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", &StatusError{Endpoint: "categories/filter", Code: resp.StatusCode}
	}

	var out struct {
		Results []struct {
			Identity string `json:"Identity"`
		} `json:"Results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("opentimetable categories/filter: decode: %w", err)
	}
	if len(out.Results) == 0 || out.Results[0].Identity == "" {
		return "", fmt.Errorf("opentimetable categories/filter: no category for %q", course)
	}
	return out.Results[0].Identity, nil
}

// Events fetches the timetable events for a resolved category identity.
func (c *Client) Events(ctx context.Context, categoryIdentity string) ([]Event, error) {
	body, err := requestBody(categoryIdentity)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/broker/api/categoryTypes/%s/categories/events/filter",
		c.cfg.BaseURL, c.cfg.CategoryTypeID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Endpoint: "events/filter", Code: resp.StatusCode}
	}

	var out []struct {
		CategoryEvents []struct {
			StartDateTime   string `json:"StartDateTime"`
			EndDateTime     string `json:"EndDateTime"`
			Location        string `json:"Location"`
			ExtraProperties []struct {
				Value string `json:"Value"`
			} `json:"ExtraProperties"`
		} `json:"CategoryEvents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("opentimetable events/filter: decode: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	events := make([]Event, 0, len(out[0].CategoryEvents))
	for _, raw := range out[0].CategoryEvents {
		start, err := time.Parse(time.RFC3339, raw.StartDateTime)
		if err != nil {
			return nil, fmt.Errorf("opentimetable events/filter: bad StartDateTime %q: %w", raw.StartDateTime, err)
		}
		end, err := time.Parse(time.RFC3339, raw.EndDateTime)
		if err != nil {
			return nil, fmt.Errorf("opentimetable events/filter: bad EndDateTime %q: %w", raw.EndDateTime, err)
		}
		ev := Event{Start: start, End: end, Location: raw.Location}
		if len(raw.ExtraProperties) > 0 {
			ev.Label = raw.ExtraProperties[0].Value
		}
		events = append(events, ev)
	}
	return events, nil
}
