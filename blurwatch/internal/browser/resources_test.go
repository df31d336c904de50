package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestBlockSet_MediaNeverBlocked(t *testing.T) {
	set := blockSet([]string{"images", "media", "Fonts", " stylesheets ", "scripts"})
	if len(set) != 2 {
		t.Fatalf("got %d types, want 2: %v", len(set), set)
	}
	if !set[proto.NetworkResourceTypeFont] || !set[proto.NetworkResourceTypeStylesheet] {
		t.Errorf("fonts/stylesheets missing: %v", set)
	}
	if set[proto.NetworkResourceTypeImage] || set[proto.NetworkResourceTypeMedia] {
		t.Error("media type blocked")
	}
}
