package util

import (
	"reflect"
	"testing"
)

func TestIn(t *testing.T) {
	ss := []string{"XCP", "PEPECASH", "A95428956661682177"}
	if !In(ss, "XCP") || !In(ss, "A95428956661682177") {
		t.Errorf("In did not find a member of %v", ss)
	}
	if In(ss, "BTC") || In(nil, "XCP") {
		t.Errorf("In found a non member")
	}
}

func TestChunks(t *testing.T) {
	cases := []struct {
		n, size int
		exp     [][2]int
	}{
		{0, 3, nil},
		{5, 2, [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{4, 4, [][2]int{{0, 4}}},
		{3, 0, [][2]int{{0, 3}}},
	}
	for _, c := range cases {
		if got := Chunks(c.n, c.size); !reflect.DeepEqual(got, c.exp) {
			t.Errorf("Chunks(%d,%d) = %v expected %v", c.n, c.size, got, c.exp)
		}
	}
}

func TestHasScheme(t *testing.T) {
	if !HasScheme("http://localhost:4000") || !HasScheme("https://xcp.io") || HasScheme("localhost:4000") {
		t.Errorf("HasScheme mismatch")
	}
}
