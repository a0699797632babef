package domain

import (
	"math"
	"testing"
)

func TestNewPaginationClamps(t *testing.T) {
	cases := []struct {
		page, limit         int
		wantPage, wantLimit int
		wantOffset          int
	}{
		{0, 0, 1, 20, 0},
		{3, 10, 3, 10, 20},
		{2, 500, 2, 100, 100},
		{math.MaxInt, 100, MaxPage, 100, (MaxPage - 1) * 100},
	}
	for _, tc := range cases {
		p := NewPagination(tc.page, tc.limit)
		if p.Page != tc.wantPage || p.Limit != tc.wantLimit {
			t.Fatalf("NewPagination(%d, %d) = %+v", tc.page, tc.limit, p)
		}
		if got := p.Offset(); got != tc.wantOffset {
			t.Fatalf("offset for page %d: got %d want %d", tc.page, got, tc.wantOffset)
		}
	}
}

func TestOffsetNeverNegative(t *testing.T) {
	p := Pagination{Page: math.MaxInt, Limit: 100}
	if got := p.Offset(); got < 0 {
		t.Fatalf("offset overflowed: %d", got)
	}
}
