// Package fetch implements crawler.Fetcher.
//
// Three strategies are provided:
//
//   - HTTPFetcher: a plain GET. Fast, and enough for shops that render
//     their product links on the server.
//   - BrowserFetcher: loads the page in headless Chromium through go-rod
//     and returns the DOM after scripts have run. Needed for storefronts
//     that build their navigation client-side.
//   - FallbackFetcher: static first, headless only when the static HTML
//     has no links to follow.
//
// The crawl engine never knows which one it is talking to.
package fetch
