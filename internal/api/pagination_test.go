package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query       string
		wantPage    int
		wantPerPage int
	}{
		{"", 1, 50},
		{"page=3&per_page=25", 3, 25},
		{"per_page=500", 1, 200},
		{"page=-1", 1, 50},
		{"page=0&per_page=0", 1, 50},
		{"page=abc&per_page=xyz", 1, 50},
		{"page=1000", 1000, 50},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/approvals/audit?"+tt.query, nil)
		p := ParsePagination(r)
		if p.Page != tt.wantPage || p.PerPage != tt.wantPerPage {
			t.Errorf("ParsePagination(%q): expected page %d per_page %d, got %d/%d",
				tt.query, tt.wantPage, tt.wantPerPage, p.Page, p.PerPage)
		}
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", DefaultLimit},
		{"limit=10", 10},
		{"limit=0", DefaultLimit},
		{"limit=-3", DefaultLimit},
		{"limit=abc", DefaultLimit},
		{"limit=5000", MaxLimit},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/events?"+tt.query, nil)
		if got := ParseLimit(r); got != tt.want {
			t.Errorf("ParseLimit(%q): expected %d, got %d", tt.query, tt.want, got)
		}
	}
}

func TestPaginationParams_OffsetAndPages(t *testing.T) {
	p := PaginationParams{Page: 3, PerPage: 25}
	if p.Offset() != 50 {
		t.Errorf("expected offset 50, got %d", p.Offset())
	}

	totals := map[int64]int{0: 0, 1: 1, 25: 1, 26: 2, 100: 4, 101: 5}
	for total, want := range totals {
		if got := p.TotalPages(total); got != want {
			t.Errorf("TotalPages(%d): expected %d, got %d", total, want, got)
		}
	}

	if (PaginationParams{Page: 1}).TotalPages(10) != 0 {
		t.Error("expected zero pages when per_page is unset")
	}
}

func TestNewPaginatedResponse(t *testing.T) {
	records := []string{"a", "b"}
	resp := NewPaginatedResponse(records, PaginationParams{Page: 2, PerPage: 2}, 5)

	if resp.Pagination.Total != 5 || resp.Pagination.TotalPages != 3 {
		t.Errorf("unexpected pagination meta %+v", resp.Pagination)
	}
	if resp.Pagination.Page != 2 || resp.Pagination.PerPage != 2 {
		t.Errorf("expected page 2 of size 2, got %+v", resp.Pagination)
	}
	if got, ok := resp.Data.([]string); !ok || len(got) != 2 {
		t.Errorf("expected data to be passed through, got %v", resp.Data)
	}
}
