package scn_test

import (
	"testing"

	"github.com/cdcstream/olr/scn"
)

func TestLess(t *testing.T) {
	cases := []struct {
		a, b scn.SCN
		want bool
	}{
		{100, 200, true},
		{200, 100, false},
		{100, 100, false},
		{scn.None, 100, false},
		{100, scn.None, false},
		{scn.None, scn.None, false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestIsNone(t *testing.T) {
	if !scn.None.IsNone() {
		t.Error("None.IsNone() = false, want true")
	}
	if scn.Zero.IsNone() {
		t.Error("Zero.IsNone() = true, want false")
	}
}

func TestFileOffsetAligned(t *testing.T) {
	if !scn.FileOffset(4096).Aligned(512) {
		t.Error("4096 should be aligned to 512")
	}
	if scn.FileOffset(100).Aligned(512) {
		t.Error("100 should not be aligned to 512")
	}
}
