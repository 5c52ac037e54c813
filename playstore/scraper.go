package playstore

import (
	"context"
	"errors"
)

// ErrAppNotFound reports that the store no longer serves the requested
// app. Request handlers translate it into a not-found result instead
// of an error so the target is closed rather than retried.
var ErrAppNotFound = errors.New("app not found")

// Sort selects the order of a review listing.
type Sort int

const (
	SortMostRelevant Sort = 1
	SortNewest       Sort = 2
	SortRating       Sort = 3
)

// ResultsPerRequest is the page size the store serves reviews in.
// Gain is counted in documents but cost in requests, so review costs
// are normalised against it.
const ResultsPerRequest = 200

// ContinuationToken carries the paging state of a review listing
// between requests. It round-trips through task kwargs, so the json
// shape is part of the stage configuration surface.
type ContinuationToken struct {
	Token           string `json:"token"`
	Lang            string `json:"lang,omitempty"`
	Country         string `json:"country,omitempty"`
	Sort            Sort   `json:"sort,omitempty"`
	Count           int    `json:"count,omitempty"`
	FilterScoreWith *int   `json:"filter_score_with"`
}

// ReviewsQuery parameterises one page of a review listing.
type ReviewsQuery struct {
	AppID   string
	Lang    string
	Country string
	Count   int
	Sort    Sort
	// Continuation resumes a listing; nil starts from the newest page.
	Continuation *ContinuationToken
}

// Scraper is the store access surface the request tasks run against.
// Engine-facing semantics such as costs, continuations and not-found
// handling live in the tasks; implementations only fetch and decode.
type Scraper interface {
	// App fetches the detail listing of an app in one language.
	App(ctx context.Context, appID, lang string) (map[string]any, error)

	// Reviews fetches one page of reviews plus the continuation of the
	// listing, nil when the listing is done.
	Reviews(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error)

	// Permissions fetches the permission inventory of an app.
	Permissions(ctx context.Context, appID, lang string) (map[string]any, error)

	// DataSafety fetches the data safety declaration of an app.
	DataSafety(ctx context.Context, appID, lang string) (map[string]any, error)

	// DeveloperApps lists the app ids on a developer page.
	DeveloperApps(ctx context.Context, token, lang string) ([]string, error)

	// CollectionApps lists the app ids on a collection page.
	CollectionApps(ctx context.Context, token, lang string) ([]string, error)
}
