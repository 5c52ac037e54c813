package playstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
)

// Task names of the Play Store request handlers. The request prefix
// routes them onto the request queue and its rate-limited workers.
const (
	TaskDetailRequest     = "request.gps.detail"
	TaskReviewsRequest    = "request.gps.reviews"
	TaskPermissionRequest = "request.gps.permission"
	TaskDataSafetyRequest = "request.gps.data_safety"
)

// Tasks holds the Play Store request handlers.
type Tasks struct {
	scraper Scraper
	logger  *slog.Logger
}

// NewTasks wires the request handlers to a scraper.
func NewTasks(scraper Scraper, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{scraper: scraper, logger: logger.With("component", "playstore")}
}

// Register binds the request tasks to the registry.
func (t *Tasks) Register(registry *dispatch.Registry) {
	registry.RegisterFunc(TaskDetailRequest, t.RequestDetail)
	registry.RegisterFunc(TaskReviewsRequest, t.RequestReviews)
	registry.RegisterFunc(TaskPermissionRequest, t.RequestPermission)
	registry.RegisterFunc(TaskDataSafetyRequest, t.RequestDataSafety)
}

// notFoundResult is the uniform answer for apps the store no longer
// serves: no payload, no gain, and the target closes instead of
// retrying.
func notFoundResult() *core.RequestResult {
	return &core.RequestResult{TargetNotFound: true, Gain: 0, Cost: 1}
}

// RequestDetail fetches an app's store listing. The listing's
// cross-sell pages (similar apps, more by the same developer) are
// expanded into plain app id lists and offered to target discovery as
// adjacent targets. Expansions are separate requests, so each enabled
// one counts into the cost whether or not its page was present.
func (t *Tasks) RequestDetail(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		AppID               string `json:"app_id"`
		Lang                string `json:"lang"`
		LoadSimilarApps     *bool  `json:"load_similar_apps"`
		LoadMoreByDeveloper *bool  `json:"load_more_apps_by_developer"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if args.AppID == "" || args.Lang == "" {
		return nil, dispatch.NonRetryable(errors.New("detail request needs app_id and lang"))
	}
	loadSimilar := args.LoadSimilarApps == nil || *args.LoadSimilarApps
	loadMoreByDeveloper := args.LoadMoreByDeveloper == nil || *args.LoadMoreByDeveloper

	response, err := t.scraper.App(ctx, args.AppID, args.Lang)
	if errors.Is(err, ErrAppNotFound) {
		t.logger.Info("app gone from store", "task", req.Task, "app_id", args.AppID)
		return notFoundResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch detail of %s: %w", args.AppID, err)
	}
	response["lang"] = args.Lang
	response["document_type"] = DocumentTypeDetail

	if loadMoreByDeveloper && response["moreByDeveloperPage"] != nil {
		if err := t.expandPage(ctx, response, "moreByDeveloperPage", "moreByDeveloper", args.Lang); err != nil {
			return nil, err
		}
	}
	if loadSimilar && response["similarAppsPage"] != nil {
		if err := t.expandPage(ctx, response, "similarAppsPage", "similarApps", args.Lang); err != nil {
			return nil, err
		}
	}

	var adjacent []core.SlimTarget
	for _, key := range []string{"similarApps", "moreByDeveloper"} {
		for _, appID := range stringsOf(response[key]) {
			adjacent = append(adjacent, core.SlimTarget{
				Kwargs: core.Kwargs{"app_id": appID, "lang": args.Lang},
			})
		}
	}

	cost := 1
	if loadSimilar {
		cost++
	}
	if loadMoreByDeveloper {
		cost++
	}
	return &core.RequestResult{
		Result:          response,
		Gain:            1,
		Cost:            cost,
		AdjacentTargets: adjacent,
	}, nil
}

// expandPage resolves a cross-sell page reference into the app ids it
// lists, replacing the page token with the expansion.
func (t *Tasks) expandPage(ctx context.Context, response map[string]any, pageKey, targetKey, lang string) error {
	page := mapOf(response[pageKey])
	token := stringOf(page["token"])
	pageType := stringOf(page["type"])
	if token == "" {
		return dispatch.NonRetryable(fmt.Errorf("page %s carries no token", pageKey))
	}

	var (
		apps []string
		err  error
	)
	switch strings.ToUpper(pageType) {
	case "DEVELOPER":
		apps, err = t.scraper.DeveloperApps(ctx, token, lang)
	case "COLLECTION":
		apps, err = t.scraper.CollectionApps(ctx, token, lang)
	default:
		return dispatch.NonRetryable(fmt.Errorf("page %s has unsupported type %q", pageKey, pageType))
	}
	if err != nil {
		return fmt.Errorf("expand %s: %w", pageKey, err)
	}
	response[targetKey] = apps
	delete(response, pageKey)
	return nil
}

// RequestReviews fetches one page of an app's reviews, newest first.
// The store's continuation token round-trips through the subsequent
// kwargs until the listing is exhausted. Review timestamps flatten to
// Unix seconds so the batch records decode the same on every worker.
func (t *Tasks) RequestReviews(ctx context.Context, req dispatch.Request) (any, error) {
	var args struct {
		AppID        string             `json:"app_id"`
		Lang         string             `json:"lang"`
		Count        int                `json:"count"`
		Sort         Sort               `json:"sort"`
		Continuation *ContinuationToken `json:"continuation_token"`
	}
	if err := req.Decode(&args); err != nil {
		return nil, dispatch.NonRetryable(err)
	}
	if args.AppID == "" {
		return nil, dispatch.NonRetryable(errors.New("reviews request needs app_id"))
	}
	if args.Lang == "" {
		args.Lang = "en"
	}
	if args.Count <= 0 {
		args.Count = ResultsPerRequest
	}
	if args.Sort == 0 {
		args.Sort = SortNewest
	}

	reviews, next, err := t.scraper.Reviews(ctx, ReviewsQuery{
		AppID:        args.AppID,
		Lang:         args.Lang,
		Count:        args.Count,
		Sort:         args.Sort,
		Continuation: args.Continuation,
	})
	if errors.Is(err, ErrAppNotFound) {
		t.logger.Info("app gone from store", "task", req.Task, "app_id", args.AppID)
		return notFoundResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch reviews of %s: %w", args.AppID, err)
	}

	records := make([]any, 0, len(reviews))
	for _, review := range reviews {
		review["lang"] = args.Lang
		review["app_id"] = args.AppID
		review["document_type"] = DocumentTypeReview
		if at, ok := review["at"].(time.Time); ok {
			review["at"] = at.Unix()
		}
		if repliedAt, ok := review["repliedAt"].(time.Time); ok {
			review["repliedAt"] = repliedAt.Unix()
		}
		records = append(records, review)
	}

	var subsequent core.Kwargs
	if next != nil && next.Token != "" {
		subsequent = core.Kwargs{"continuation_token": next}
	}

	cost := (len(reviews) + ResultsPerRequest - 1) / ResultsPerRequest
	if cost < 1 {
		cost = 1
	}
	return &core.RequestResult{
		Result:           map[string]any{"records": records},
		SubsequentKwargs: subsequent,
		Batch:            true,
		Gain:             len(reviews),
		Cost:             cost,
	}, nil
}

// RequestPermission fetches an app's permission inventory.
func (t *Tasks) RequestPermission(ctx context.Context, req dispatch.Request) (any, error) {
	args, err := appLangArgs(req)
	if err != nil {
		return nil, err
	}
	response, err := t.scraper.Permissions(ctx, args.AppID, args.Lang)
	if errors.Is(err, ErrAppNotFound) {
		t.logger.Info("app gone from store", "task", req.Task, "app_id", args.AppID)
		return notFoundResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch permissions of %s: %w", args.AppID, err)
	}
	response["lang"] = args.Lang
	response["app_id"] = args.AppID
	response["document_type"] = DocumentTypePermission
	return core.NewRequestResult(response), nil
}

// RequestDataSafety fetches an app's data safety declaration. The
// declaration is a single page, so the result closes the target
// outright.
func (t *Tasks) RequestDataSafety(ctx context.Context, req dispatch.Request) (any, error) {
	args, err := appLangArgs(req)
	if err != nil {
		return nil, err
	}
	response, err := t.scraper.DataSafety(ctx, args.AppID, args.Lang)
	if errors.Is(err, ErrAppNotFound) {
		t.logger.Info("app gone from store", "task", req.Task, "app_id", args.AppID)
		return notFoundResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch data safety of %s: %w", args.AppID, err)
	}
	response["lang"] = args.Lang
	response["app_id"] = args.AppID
	response["document_type"] = DocumentTypeDataSafety

	exhausted := true
	return &core.RequestResult{
		Result:          response,
		Gain:            1,
		Cost:            1,
		TargetExhausted: &exhausted,
	}, nil
}

type appLangKwargs struct {
	AppID string `json:"app_id"`
	Lang  string `json:"lang"`
}

func appLangArgs(req dispatch.Request) (appLangKwargs, error) {
	var args appLangKwargs
	if err := req.Decode(&args); err != nil {
		return args, dispatch.NonRetryable(err)
	}
	if args.AppID == "" || args.Lang == "" {
		return args, dispatch.NonRetryable(fmt.Errorf("%s needs app_id and lang", req.Task))
	}
	return args, nil
}
