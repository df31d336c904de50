package qualify

import (
	"testing"

	"github.com/hazyhaar/blurkit/blurwatch/dom"
	"github.com/hazyhaar/blurkit/blurwatch/settings"
	"github.com/hazyhaar/blurkit/blurwatch/status"
)

func img(id, src string, w, h int) *dom.Media {
	return &dom.Media{NodeID: dom.NodeID(id), Tag: dom.KindImage, URL: src, PixelWidth: w, PixelHeight: h}
}

func TestQualifies(t *testing.T) {
	tr := status.NewTracker()
	tr.Mark("seen", status.Processing)
	q := New(tr, MinSize(32, 32))

	all := settings.NotYetLoaded()
	noImages := settings.Loaded(settings.Flags{Detect: true, DetectVideos: true})
	noVideos := settings.Loaded(settings.Flags{Detect: true, DetectImages: true})

	cases := []struct {
		name       string
		el         dom.Element
		srcChanged bool
		snap       settings.Snapshot
		want       bool
	}{
		{"fresh image", img("a", "a.png", 100, 100), false, all, true},
		{"image detection off", img("a", "a.png", 100, 100), false, noImages, false},
		{"video detection off", &dom.Media{NodeID: "v", Tag: dom.KindVideo, URL: "v.mp4"}, false, noVideos, false},
		{"other tag", &dom.Media{NodeID: "f", Tag: dom.KindOther, URL: "x.html", PixelWidth: 100, PixelHeight: 100}, false, all, false},
		{"already tagged", img("seen", "a.png", 100, 100), false, all, false},
		{"already tagged, src changed", img("seen", "b.png", 100, 100), true, all, true},
		{"no source", img("a", "", 100, 100), false, all, false},
		{"no source, src changed", img("a", "", 100, 100), true, all, false},
		{"too small", img("a", "a.png", 10, 10), false, all, false},
		{"too small width only", img("a", "a.png", 10, 100), false, all, false},
		{"zero width", img("a", "a.png", 0, 10), false, all, true},
		{"zero height", img("a", "a.png", 10, 0), false, all, true},
		{"zero both", img("a", "a.png", 0, 0), false, all, true},
		{"video with source child", &dom.Media{NodeID: "v", Tag: dom.KindVideo, SourceCount: 1}, false, all, true},
		{"video without any source", &dom.Media{NodeID: "v", Tag: dom.KindVideo}, false, all, false},
	}

	for _, tc := range cases {
		if got := q.Qualifies(tc.el, tc.srcChanged, tc.snap); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestQualifies_UnknownStatusDoesNotBlock(t *testing.T) {
	tr := status.NewTracker()
	tr.Mark("a", status.Status("garbage"))
	q := New(tr, nil)

	if !q.Qualifies(img("a", "a.png", 0, 0), false, settings.NotYetLoaded()) {
		t.Error("unrecognised status blocked qualification")
	}
}

func TestNew_DefaultSize(t *testing.T) {
	q := New(status.NewTracker(), nil)
	if !q.TooSmall(img("a", "a.png", DefaultMinSize-1, 100)) {
		t.Error("default size func accepted an element below the threshold")
	}
	if q.TooSmall(img("a", "a.png", DefaultMinSize, DefaultMinSize)) {
		t.Error("default size func rejected an element at the threshold")
	}
}
