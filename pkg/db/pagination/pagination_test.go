package pagination

import "testing"

func TestNormalize(t *testing.T) {
	got := Page{Page: 0, Limit: 500}.Normalize(100)
	if got.Page != 1 || got.Limit != 100 {
		t.Fatalf("unexpected page %+v", got)
	}
	got = Page{}.Normalize(0)
	if got.Limit != DefaultLimit {
		t.Fatalf("expected default limit, got %d", got.Limit)
	}
}

func TestBuildPageInfo(t *testing.T) {
	p := Page{Page: 3, Limit: 10}
	if p.Offset() != 20 {
		t.Fatalf("expected offset 20, got %d", p.Offset())
	}
	info := BuildPageInfo(p, 21)
	if info.Pages != 3 || info.Total != 21 || info.Current != 3 {
		t.Fatalf("unexpected info %+v", info)
	}
	if BuildPageInfo(p, 0).Pages != 0 {
		t.Fatalf("expected zero pages for empty result")
	}
}
