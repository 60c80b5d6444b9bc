package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/trays"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=5&offset=10", 5, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-3&offset=-1", DefaultLimit, 0},
		{"?limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(contextFor(tt.query))
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("got %+v, want limit=%d offset=%d", p, tt.limit, tt.offset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected HasMore with 5 total and first page of 2")
	}
	r = NewResponse([]string{"e"}, 5, 2, 4)
	if r.HasMore {
		t.Error("expected no more results on last page")
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 5}).PreviousOffset(); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := (Params{Limit: 10, Offset: 30}).PreviousOffset(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func TestParams_Links(t *testing.T) {
	links := Params{Limit: 10, Offset: 10}.Links(mustURL(t, "/api/v1/trays"), 35)
	if len(links) != 3 {
		t.Fatalf("expected self, next and previous, got %+v", links)
	}
	if links[1].Relation != "next" || links[1].URL != "/api/v1/trays?limit=10&offset=20" {
		t.Errorf("unexpected next link: %+v", links[1])
	}
	if links[2].Relation != "previous" || links[2].URL != "/api/v1/trays?limit=10&offset=0" {
		t.Errorf("unexpected previous link: %+v", links[2])
	}

	first := Params{Limit: 10}.Links(mustURL(t, "/api/v1/trays"), 3)
	if len(first) != 1 || first[0].Relation != "self" {
		t.Errorf("expected only self link, got %+v", first)
	}
}

func TestParams_Links_KeepFilters(t *testing.T) {
	links := Params{Limit: 5}.Links(mustURL(t, "/api/v1/cases?state=in_tray&limit=5"), 12)
	if links[1].URL != "/api/v1/cases?limit=5&offset=5&state=in_tray" {
		t.Errorf("unexpected next link: %s", links[1].URL)
	}
}

func TestResponse_WithLinks(t *testing.T) {
	r := NewResponse(nil, 25, 10, 0).WithLinks(mustURL(t, "/api/v1/corrections"))
	if len(r.Links) != 2 {
		t.Errorf("expected self and next links, got %+v", r.Links)
	}
}
