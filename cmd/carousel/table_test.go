package main

import "testing"

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Count"},
		[][]string{{"abc", "2"}, {"def", "14"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	requireContains(t, out, "ID")
	requireContains(t, out, "abc")
	requireContains(t, out, "14")
}

func TestRenderTableNoHeaders(t *testing.T) {
	if out := renderTable(nil, nil, nil); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	requireContains(t, out, "only")
}
