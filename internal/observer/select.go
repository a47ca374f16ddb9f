package observer

import (
	"net/url"
	"strings"

	"github.com/genricoloni/playsync/internal/domain"
	"github.com/samber/lo"
)

var streamingSignatures = []string{"blob:", "googlevideo.com"}

// SelectVideo picks the element that actually carries playback: one that is
// laid out and streams from a recognized source, else the first one found
func SelectVideo(videos []domain.VideoElement) (domain.VideoElement, bool) {
	if len(videos) == 0 {
		return domain.VideoElement{}, false
	}

	v, ok := lo.Find(videos, func(v domain.VideoElement) bool {
		return v.Width > 0 && v.Height > 0 && isStreaming(v.Src)
	})
	if ok {
		return v, true
	}
	return videos[0], true
}

func isStreaming(src string) bool {
	return lo.SomeBy(streamingSignatures, func(sig string) bool {
		return strings.Contains(src, sig)
	})
}

// IsDeepLink reports whether the page was opened directly on content
func IsDeepLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	q := u.Query()
	if u.Path == "/watch" && q.Get("v") != "" {
		return true
	}
	return q.Has("list")
}
