package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps config names to CDP resource types. Images and media are
// what blurwatch detects, so they are not blockable.
var blockable = map[string]proto.NetworkResourceType{
	"fonts":       proto.NetworkResourceTypeFont,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockSet resolves config names, dropping unknown or protected ones.
func blockSet(names []string) map[proto.NetworkResourceType]bool {
	set := make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		if t, ok := blockable[strings.ToLower(strings.TrimSpace(n))]; ok {
			set[t] = true
		}
	}
	return set
}

// applyResourceBlocking fails requests of the blocked types.
func applyResourceBlocking(page *rod.Page, names []string) *rod.HijackRouter {
	set := blockSet(names)
	if len(set) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if set[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
