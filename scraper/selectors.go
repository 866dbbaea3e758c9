package scraper

// Platform URLs and DOM selectors. Kept together because the platform
// changes its markup often; update here when capture breaks.
const (
	// FeedURL is the for-you feed entry point.
	FeedURL = "https://www.tiktok.com/foryou"

	// FeedItemListPath identifies the feed-pagination endpoint.
	FeedItemListPath = "/api/recommend/item_list"

	// ProfileLinkSelector is the nav link pointing at the logged-in profile.
	ProfileLinkSelector = `a[data-e2e="nav-profile"]`

	// LoadMoreSelector is the "next video" arrow that triggers pagination.
	LoadMoreSelector = `path[d="m24 27.76 13.17-13.17a1 1 0 0 1 1.42 0l2.82 2.82a1 1 0 0 1 0 1.42L25.06 35.18a1.5 1.5 0 0 1-2.12 0L6.59 18.83a1 1 0 0 1 0-1.42L9.4 14.6a1 1 0 0 1 1.42 0L24 27.76Z"]`
)
