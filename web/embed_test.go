package web

import (
	"io/fs"
	"strings"
	"testing"
)

func TestContentEmbedded(t *testing.T) {
	for _, name := range []string{"index.html", "app.js", "styles.css"} {
		data, err := fs.ReadFile(Content, name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

// A group without a marker in the current frame keeps its orbit line; only
// the marker and footprint are hidden.
func TestFramesHideMarkersNotOrbits(t *testing.T) {
	data, err := fs.ReadFile(Content, "app.js")
	if err != nil {
		t.Fatal(err)
	}
	src := string(data)
	if strings.Contains(src, "group.visible") {
		t.Error("app.js toggles whole group visibility")
	}
	for _, want := range []string{"g.marker.visible = false", "g.footprint.visible = false"} {
		if !strings.Contains(src, want) {
			t.Errorf("app.js missing %q", want)
		}
	}
}
