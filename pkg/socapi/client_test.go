package socapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCourseForLowercasesEmailAndSendsKey(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/api/v1/course/jane.doe2@mail.dcu.ie" {
			t.Errorf("path = %q", got)
		}
		if got := r.Header.Get("x-api-key"); got != "sekrit" {
			t.Errorf("x-api-key = %q", got)
		}
		_, _ = w.Write([]byte(`{"course":"CASE3"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sekrit"})
	course, err := c.CourseFor(context.Background(), "Jane.Doe2@Mail.DCU.ie")
	if err != nil {
		t.Fatalf("CourseFor error: %v", err)
	}
	if course != CourseCase3 {
		t.Fatalf("course = %q, want CASE3", course)
	}
}

func TestCourseForSentinels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		want   Course
	}{
		{name: "non-2xx", status: 500, body: "boom", want: CourseUnknown},
		{name: "malformed body", status: 200, body: "<!doctype html>", want: CourseUnknown},
		{name: "unrecognized course", status: 200, body: `{"course":"EE1"}`, want: CourseUnresolved},
		{name: "alumni", status: 200, body: `{"course":"CASE"}`, want: CourseCaseAlumni},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL})
			course, err := c.CourseFor(context.Background(), "someone@mail.dcu.ie")
			if err != nil {
				t.Fatalf("CourseFor error: %v", err)
			}
			if course != tt.want {
				t.Fatalf("course = %q, want %q", course, tt.want)
			}
		})
	}
}

func TestCourseKnown(t *testing.T) {
	t.Parallel()
	if CourseUnknown.Known() || CourseUnresolved.Known() {
		t.Fatal("sentinels must not be known")
	}
	for _, c := range []Course{CourseComsci1, CourseComsci2, CourseCase3, CourseCase4, CourseCaseAlumni} {
		if !c.Known() {
			t.Fatalf("%q should be known", c)
		}
	}
}
