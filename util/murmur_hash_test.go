package util

import "testing"

func TestMurmurHashSum128Deterministic(t *testing.T) {
	h1a, h2a := MurmurHashSum128([]byte("widgets::item1"))
	h1b, h2b := MurmurHashSum128([]byte("widgets::item1"))
	if h1a != h1b || h2a != h2b {
		t.Fatalf("MurmurHashSum128 not deterministic: (%x,%x) vs (%x,%x)", h1a, h2a, h1b, h2b)
	}

	h1c, _ := MurmurHashSum128([]byte("widgets::item2"))
	if h1a == h1c {
		t.Fatalf("MurmurHashSum128 collided on distinct inputs")
	}
}

func TestMurmurHashSum64MatchesSum128FirstHalf(t *testing.T) {
	data := []byte("$collections::widgets")
	h1, _ := MurmurHashSum128(data)
	if got := MurmurHashSum64(data); got != h1 {
		t.Fatalf("MurmurHashSum64() = %x, want %x", got, h1)
	}
}
