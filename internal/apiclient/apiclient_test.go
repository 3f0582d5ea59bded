package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func TestClient(t *testing.T) {
	t.Run("gets data with query and session", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, want := r.Method+" "+r.URL.Path, "GET /projects"; got != want {
				t.Errorf("got %q, want %q", got, want)
			}
			if got, want := r.URL.Query().Get("experienceName"), "@acme/widget"; got != want {
				t.Errorf("got %q experienceName, want %q", got, want)
			}
			if got, want := r.Header.Get("Expo-Session"), "secret"; got != want {
				t.Errorf("got %q session, want %q", got, want)
			}
			_, _ = io.WriteString(w, `{"data":[{"id":"p1"}]}`)
		}))
		t.Cleanup(srv.Close)
		c := newTestClient(t, srv.URL, "secret")

		var got []struct {
			ID string `json:"id"`
		}
		err := c.Get(context.Background(), "projects", url.Values{"experienceName": {"@acme/widget"}}, &got)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if len(got) != 1 || got[0].ID != "p1" {
			t.Fatalf("got %#v, want one project p1", got)
		}
	})

	t.Run("posts a JSON body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("didn't want %q", err)
			}
			want := map[string]string{"accountName": "acme", "projectName": "widget"}
			if !reflect.DeepEqual(body, want) {
				t.Errorf("got %v, want %v", body, want)
			}
			_, _ = io.WriteString(w, `{"data":{"id":"p1"}}`)
		}))
		t.Cleanup(srv.Close)
		c := newTestClient(t, srv.URL, "")

		var got struct {
			ID string `json:"id"`
		}
		err := c.Post(context.Background(), "/projects", map[string]string{"accountName": "acme", "projectName": "widget"}, &got)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got.ID != "p1" {
			t.Fatalf("got %q, want %q", got.ID, "p1")
		}
	})

	tests := []struct {
		name         string
		status       int
		body         string
		wantNotFound bool
		want         *APIError
	}{
		{
			"reports coded not found",
			http.StatusBadRequest,
			`{"errors":[{"code":"EXPERIENCE_NOT_FOUND","message":"no such experience"}]}`,
			true,
			&APIError{Status: http.StatusBadRequest, Code: "EXPERIENCE_NOT_FOUND", Message: "no such experience"},
		},
		{
			"reports status not found",
			http.StatusNotFound,
			`not found`,
			true,
			&APIError{Status: http.StatusNotFound, Message: "not found"},
		},
		{
			"reports other errors",
			http.StatusInternalServerError,
			`{"errors":[{"code":"INTERNAL","message":"boom"}]}`,
			false,
			&APIError{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "boom"},
		},
		{
			"reports errors in a successful response",
			http.StatusOK,
			`{"errors":[{"code":"UNAUTHORIZED","message":"log in"}]}`,
			false,
			&APIError{Status: http.StatusOK, Code: "UNAUTHORIZED", Message: "log in"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			t.Cleanup(srv.Close)
			c := newTestClient(t, srv.URL, "")

			err := c.Get(context.Background(), "projects", nil, nil)
			if got := errors.Is(err, ErrNotFound); got != tt.wantNotFound {
				t.Errorf("got %v errors.Is(err, ErrNotFound), want %v", got, tt.wantNotFound)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("got %v, want *APIError", err)
			}
			if !reflect.DeepEqual(apiErr, tt.want) {
				t.Errorf("got %#v, want %#v", apiErr, tt.want)
			}
		})
	}

	t.Run("reports transport errors", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		c := newTestClient(t, srv.URL, "")
		srv.Close()

		err := c.Get(context.Background(), "projects", nil, nil)
		if err == nil {
			t.Fatal("want error")
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatalf("didn't want %q to be ErrNotFound", err)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			t.Fatalf("didn't want *APIError, got %v", apiErr)
		}
	})
}

func newTestClient(tb testing.TB, baseURL string, secret string) *Client {
	tb.Helper()

	c, err := New(&Config{BaseURL: baseURL, SessionSecret: secret})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	return c
}
