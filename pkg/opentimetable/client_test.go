package opentimetable

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolveCategory(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.URL.Query().Get("query"); got != "CASE3" {
			t.Errorf("query = %q, want CASE3", got)
		}
		if got := r.Header.Get("Authorization"); got != DefaultAuthorization {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"Results":[{"Identity":"abc-123"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	id, err := c.ResolveCategory(context.Background(), "CASE3")
	if err != nil {
		t.Fatalf("ResolveCategory error: %v", err)
	}
	if id != "abc-123" {
		t.Fatalf("identity = %q, want abc-123", id)
	}
}

func TestResolveCategoryNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.ResolveCategory(context.Background(), "CASE3")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if se.Code != http.StatusBadGateway {
		t.Fatalf("code = %d", se.Code)
	}
}

func TestEventsParsesAndSubstitutesIdentity(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_, _ = w.Write([]byte(`[{"CategoryEvents":[
			{"StartDateTime":"2021-10-04T08:00:00+00:00","EndDateTime":"2021-10-04T09:00:00+00:00",
			 "Location":"HG23","ExtraProperties":[{"Value":"CA400"}]}
		]}]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	events, err := c.Events(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("Events error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Label != "CA400" || ev.Location != "HG23" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Start.Equal(time.Date(2021, 10, 4, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", ev.Start)
	}

	ids, ok := gotBody["CategoryIdentities"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "abc-123" {
		t.Fatalf("CategoryIdentities = %v", gotBody["CategoryIdentities"])
	}
}

func TestRequestBodyDoesNotMutateTemplate(t *testing.T) {
	t.Parallel()
	before := string(requestTemplate)
	if _, err := requestBody("one"); err != nil {
		t.Fatalf("requestBody error: %v", err)
	}
	if _, err := requestBody("two"); err != nil {
		t.Fatalf("requestBody error: %v", err)
	}
	if string(requestTemplate) != before {
		t.Fatal("request template mutated")
	}

	b, err := requestBody("two")
	if err != nil {
		t.Fatalf("requestBody error: %v", err)
	}
	var body struct {
		CategoryIdentities []string `json:"CategoryIdentities"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("unmarshal derived body: %v", err)
	}
	if len(body.CategoryIdentities) != 1 || body.CategoryIdentities[0] != "two" {
		t.Fatalf("CategoryIdentities = %v", body.CategoryIdentities)
	}
}
