package scraper

import "strings"

// trackerDomains are third-party ad and analytics hosts the feed page pulls
// in. None of them are needed for pagination and all of them cost proxy
// bandwidth.
var trackerDomains = []string{
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"google-analytics.com",
	"googletagmanager.com",
	"connect.facebook.net",
	"adnxs.com",
	"adsrvr.org",
	"amazon-adsystem.com",
	"criteo.com",
	"scorecardresearch.com",
	"hotjar.com",
	"mixpanel.com",
	"segment.io",
	"analytics.twitter.com",
}

// mediaPatterns match the video, audio and image bytes of feed entries. The
// feed API response already carries everything collected, so the player
// never needs to download them.
var mediaPatterns = []string{
	"*.mp4*",
	"*.m4a*",
	"*.webm*",
	"*.m3u8*",
	"*/video/tos/*",
	"*.webp*",
	"*.jpeg*",
	"*.woff2*",
}

// blockedURLPatterns merges configured patterns with the media and tracker lists into
// the wildcard form accepted by Network.setBlockedURLs. Duplicates and
// blanks are dropped; order is preserved.
func blockedURLPatterns(extra []string) []string {
	seen := make(map[string]struct{}, len(extra)+len(mediaPatterns)+len(trackerDomains))
	out := make([]string, 0, len(extra)+len(mediaPatterns)+len(trackerDomains))
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range extra {
		add(p)
	}
	for _, p := range mediaPatterns {
		add(p)
	}
	for _, d := range trackerDomains {
		add("*" + d + "*")
	}
	return out
}
