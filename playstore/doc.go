// Package playstore is the Google Play Store source adapter: the
// reference implementation of a crawl source against the engine's
// task surface.
//
// It contributes four historic document types (Detail, Review,
// Permission, DataSafety), the request tasks that harvest them, the
// document builders the data storage pipeline constructs them with,
// and a guarded HTTP client for the store endpoints.
//
// # Documents
//
// Detail is one observation of a listing per language, Review one
// user review, Permission and DataSafety one page per app and
// language. Each document compresses its stored form before saving:
// CDN prefixes are stripped, long review ids fold to digests and HTML
// descriptions normalise to markdown, which keeps payloads small and
// diffs meaningful.
//
// # Tasks
//
// The request tasks translate store answers into request results: the
// detail task expands cross-sell pages into adjacent targets, the
// reviews task pages through a listing via the store's continuation
// token, and the permission and data safety tasks close their targets
// after a single page. A vanished app becomes a not-found result, not
// an error.
//
// # Client
//
// Client implements Scraper against the store's public endpoints.
// Every exchange passes a rate limiter, a circuit breaker and bounded
// exponential backoff. Handlers never talk HTTP themselves; anything
// that fetches and decodes can stand in for the client.
package playstore
