// Package socapi is a client for the School of Computing course registry.
// It maps a student email to an enumerated course code.
package socapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://ws.computing.dcu.ie"

// Course is the enumerated course code the registry knows about.
type Course string

const (
	// CourseUnknown means the registry could not be consulted (non-2xx or
	// malformed body). Callers must not change roles based on it.
	CourseUnknown Course = ""
	// CourseUnresolved means the registry answered with a course outside the
	// known set.
	CourseUnresolved Course = "?"

	CourseComsci1 Course = "COMSCI1"
	CourseComsci2 Course = "COMSCI2"
	CourseCase3   Course = "CASE3"
	CourseCase4   Course = "CASE4"
	// CourseCaseAlumni is the registry's marker for graduates.
	CourseCaseAlumni Course = "CASE"
)

// Known reports whether c identifies a concrete course (or alumni) that maps
// to roles.
func (c Course) Known() bool {
	switch c {
	case CourseComsci1, CourseComsci2, CourseCase3, CourseCase4, CourseCaseAlumni:
		return true
	}
	return false
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// CourseFor looks up the course for a student email. The email is lowercased
// before the request.
//
// A registry failure (non-2xx, malformed body) returns CourseUnknown with a
// nil error: the original behavior treats it as "could not determine", not as
// an operation failure.
func (c *Client) CourseFor(ctx context.Context, email string) (Course, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return CourseUnknown, fmt.Errorf("socapi: empty email")
	}

	u := c.cfg.BaseURL + "/api/v1/course/" + url.PathEscape(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return CourseUnknown, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return CourseUnknown, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return CourseUnknown, nil
	}

	var out struct {
		Course string `json:"course"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CourseUnknown, nil
	}

	course := Course(strings.ToUpper(strings.TrimSpace(out.Course)))
	if !course.Known() {
		return CourseUnresolved, nil
	}
	return course, nil
}
