package playstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
)

type stubScraper struct {
	app            func(ctx context.Context, appID, lang string) (map[string]any, error)
	reviews        func(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error)
	permissions    func(ctx context.Context, appID, lang string) (map[string]any, error)
	dataSafety     func(ctx context.Context, appID, lang string) (map[string]any, error)
	developerApps  func(ctx context.Context, token, lang string) ([]string, error)
	collectionApps func(ctx context.Context, token, lang string) ([]string, error)
}

func (s *stubScraper) App(ctx context.Context, appID, lang string) (map[string]any, error) {
	return s.app(ctx, appID, lang)
}

func (s *stubScraper) Reviews(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error) {
	return s.reviews(ctx, query)
}

func (s *stubScraper) Permissions(ctx context.Context, appID, lang string) (map[string]any, error) {
	return s.permissions(ctx, appID, lang)
}

func (s *stubScraper) DataSafety(ctx context.Context, appID, lang string) (map[string]any, error) {
	return s.dataSafety(ctx, appID, lang)
}

func (s *stubScraper) DeveloperApps(ctx context.Context, token, lang string) ([]string, error) {
	return s.developerApps(ctx, token, lang)
}

func (s *stubScraper) CollectionApps(ctx context.Context, token, lang string) ([]string, error) {
	return s.collectionApps(ctx, token, lang)
}

func requestFor(task string, kwargs core.Kwargs) dispatch.Request {
	return dispatch.Request{Task: task, Kwargs: kwargs}
}

func TestRequestDetailExpandsCrossSellPages(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		app: func(ctx context.Context, appID, lang string) (map[string]any, error) {
			return map[string]any{
				"appId": appID,
				"title": "Rocket & Roll",
				"moreByDeveloperPage": map[string]any{
					"token": "dev-token", "type": "DEVELOPER",
				},
				"similarAppsPage": map[string]any{
					"token": "sim-token", "type": "COLLECTION",
				},
			}, nil
		},
		developerApps: func(ctx context.Context, token, lang string) ([]string, error) {
			assert.Equal(t, "dev-token", token)
			return []string{"com.dev.one", "com.dev.two"}, nil
		},
		collectionApps: func(ctx context.Context, token, lang string) ([]string, error) {
			assert.Equal(t, "sim-token", token)
			return []string{"com.sim.one"}, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestDetail(ctx, requestFor(TaskDetailRequest, core.Kwargs{
		"app_id": "com.example.game",
		"lang":   "en",
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.Equal(t, 1, result.Gain)
	assert.Equal(t, 3, result.Cost)
	assert.True(t, result.Exhausted())

	assert.Equal(t, "en", result.Result["lang"])
	assert.Equal(t, DocumentTypeDetail, result.Result["document_type"])
	assert.Equal(t, []string{"com.sim.one"}, result.Result["similarApps"])
	assert.Equal(t, []string{"com.dev.one", "com.dev.two"}, result.Result["moreByDeveloper"])
	assert.NotContains(t, result.Result, "similarAppsPage")
	assert.NotContains(t, result.Result, "moreByDeveloperPage")

	require.Len(t, result.AdjacentTargets, 3)
	assert.Equal(t, core.Kwargs{"app_id": "com.sim.one", "lang": "en"}, result.AdjacentTargets[0].Kwargs)
	assert.Equal(t, core.Kwargs{"app_id": "com.dev.one", "lang": "en"}, result.AdjacentTargets[1].Kwargs)
	assert.Equal(t, core.Kwargs{"app_id": "com.dev.two", "lang": "en"}, result.AdjacentTargets[2].Kwargs)
}

func TestRequestDetailSkipsDisabledExpansions(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		app: func(ctx context.Context, appID, lang string) (map[string]any, error) {
			return map[string]any{
				"appId":           appID,
				"similarAppsPage": map[string]any{"token": "sim-token", "type": "COLLECTION"},
			}, nil
		},
		collectionApps: func(ctx context.Context, token, lang string) ([]string, error) {
			t.Fatal("collection expansion should not run")
			return nil, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestDetail(ctx, requestFor(TaskDetailRequest, core.Kwargs{
		"app_id":                      "com.example.game",
		"lang":                        "en",
		"load_similar_apps":           false,
		"load_more_apps_by_developer": false,
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.Equal(t, 1, result.Cost)
	assert.Empty(t, result.AdjacentTargets)
	// The unexpanded page reference stays in the raw result; document
	// builders ignore it.
	assert.Contains(t, result.Result, "similarAppsPage")
}

func TestRequestDetailNotFound(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		app: func(ctx context.Context, appID, lang string) (map[string]any, error) {
			return nil, ErrAppNotFound
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestDetail(ctx, requestFor(TaskDetailRequest, core.Kwargs{
		"app_id": "com.gone.app",
		"lang":   "en",
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.True(t, result.TargetNotFound)
	assert.Zero(t, result.Gain)
	assert.Equal(t, 1, result.Cost)
	assert.Nil(t, result.Result)
}

func TestRequestDetailRejectsUnknownPageType(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		app: func(ctx context.Context, appID, lang string) (map[string]any, error) {
			return map[string]any{
				"appId":           appID,
				"similarAppsPage": map[string]any{"token": "sim-token", "type": "CAROUSEL"},
			}, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	_, err := tasks.RequestDetail(ctx, requestFor(TaskDetailRequest, core.Kwargs{
		"app_id": "com.example.game",
		"lang":   "en",
	}))
	require.Error(t, err)
	assert.True(t, dispatch.IsNonRetryable(err))
}

func TestRequestReviewsPaginates(t *testing.T) {
	ctx := context.Background()
	at := time.Unix(1719000000, 0).UTC()
	scraper := &stubScraper{
		reviews: func(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error) {
			require.NotNil(t, query.Continuation)
			assert.Equal(t, "tok-1", query.Continuation.Token)
			assert.Equal(t, SortNewest, query.Sort)
			assert.Equal(t, ResultsPerRequest, query.Count)
			return []map[string]any{
					{"reviewId": "gp:1", "content": "Great!", "at": at},
					{"reviewId": "gp:2", "content": "Meh", "repliedAt": at},
				}, &ContinuationToken{
					Token: "tok-2", Lang: query.Lang, Country: "us", Sort: query.Sort, Count: query.Count,
				}, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestReviews(ctx, requestFor(TaskReviewsRequest, core.Kwargs{
		"app_id":             "com.example.game",
		"continuation_token": &ContinuationToken{Token: "tok-1"},
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.True(t, result.Batch)
	assert.Equal(t, 2, result.Gain)
	assert.Equal(t, 1, result.Cost)
	assert.False(t, result.Exhausted())

	records := result.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "en", records[0]["lang"])
	assert.Equal(t, "com.example.game", records[0]["app_id"])
	assert.Equal(t, DocumentTypeReview, records[0]["document_type"])
	assert.Equal(t, int64(1719000000), records[0]["at"])
	assert.Equal(t, int64(1719000000), records[1]["repliedAt"])

	next, ok := result.SubsequentKwargs["continuation_token"].(*ContinuationToken)
	require.True(t, ok)
	assert.Equal(t, "tok-2", next.Token)
}

func TestRequestReviewsExhaustsWithoutContinuation(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		reviews: func(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error) {
			return []map[string]any{{"reviewId": "gp:1"}}, nil, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestReviews(ctx, requestFor(TaskReviewsRequest, core.Kwargs{
		"app_id": "com.example.game",
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.Nil(t, result.SubsequentKwargs)
	assert.True(t, result.Exhausted())
}

func TestRequestReviewsCostScalesWithPageSize(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		reviews: func(ctx context.Context, query ReviewsQuery) ([]map[string]any, *ContinuationToken, error) {
			reviews := make([]map[string]any, 401)
			for i := range reviews {
				reviews[i] = map[string]any{"reviewId": fmt.Sprintf("gp:%d", i)}
			}
			return reviews, nil, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestReviews(ctx, requestFor(TaskReviewsRequest, core.Kwargs{
		"app_id": "com.example.game",
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.Equal(t, 401, result.Gain)
	assert.Equal(t, 3, result.Cost)
}

func TestRequestPermissionInjectsRoutingFields(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		permissions: func(ctx context.Context, appID, lang string) (map[string]any, error) {
			return map[string]any{"Camera": []any{"take pictures"}}, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestPermission(ctx, requestFor(TaskPermissionRequest, core.Kwargs{
		"app_id": "com.example.game",
		"lang":   "en",
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	assert.Equal(t, 1, result.Gain)
	assert.Equal(t, 1, result.Cost)
	assert.Equal(t, "en", result.Result["lang"])
	assert.Equal(t, "com.example.game", result.Result["app_id"])
	assert.Equal(t, DocumentTypePermission, result.Result["document_type"])
}

func TestRequestDataSafetyClosesTarget(t *testing.T) {
	ctx := context.Background()
	scraper := &stubScraper{
		dataSafety: func(ctx context.Context, appID, lang string) (map[string]any, error) {
			return map[string]any{"dataShared": map[string]any{}}, nil
		},
	}
	tasks := NewTasks(scraper, nil)

	out, err := tasks.RequestDataSafety(ctx, requestFor(TaskDataSafetyRequest, core.Kwargs{
		"app_id": "com.example.game",
		"lang":   "en",
	}))
	require.NoError(t, err)
	result := out.(*core.RequestResult)

	require.NotNil(t, result.TargetExhausted)
	assert.True(t, *result.TargetExhausted)
	assert.True(t, result.Exhausted())
	assert.Equal(t, DocumentTypeDataSafety, result.Result["document_type"])
}

func TestRequestTasksRejectIncompleteKwargs(t *testing.T) {
	ctx := context.Background()
	tasks := NewTasks(&stubScraper{}, nil)

	cases := []struct {
		name string
		run  func() (any, error)
	}{
		{
			name: "detail without lang",
			run: func() (any, error) {
				return tasks.RequestDetail(ctx, requestFor(TaskDetailRequest, core.Kwargs{"app_id": "a"}))
			},
		},
		{
			name: "reviews without app_id",
			run: func() (any, error) {
				return tasks.RequestReviews(ctx, requestFor(TaskReviewsRequest, core.Kwargs{"lang": "en"}))
			},
		},
		{
			name: "permission without lang",
			run: func() (any, error) {
				return tasks.RequestPermission(ctx, requestFor(TaskPermissionRequest, core.Kwargs{"app_id": "a"}))
			},
		},
		{
			name: "data safety without app_id",
			run: func() (any, error) {
				return tasks.RequestDataSafety(ctx, requestFor(TaskDataSafetyRequest, core.Kwargs{"lang": "en"}))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.run()
			require.Error(t, err)
			assert.True(t, dispatch.IsNonRetryable(err))
		})
	}
}

func TestRegisterBindsRequestTasks(t *testing.T) {
	registry := dispatch.NewRegistry()
	NewTasks(&stubScraper{}, nil).Register(registry)

	assert.ElementsMatch(t, []string{
		TaskDetailRequest,
		TaskReviewsRequest,
		TaskPermissionRequest,
		TaskDataSafetyRequest,
	}, registry.Tasks())
}
