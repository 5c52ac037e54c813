package commands

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/storage/memstore"
)

func TestPrintStatusRendersCrawlsAndTokens(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	series := &core.Series{Name: "gps"}
	require.NoError(t, store.InsertSeries(ctx, series))
	crawl := series.NewCrawl("crawl-1", time.Now().Add(-time.Hour))
	crawl.TargetsScheduled = 120
	crawl.TargetsFinished = 100
	crawl.TargetsFailed = 4
	crawl.TargetsRetried = 3
	require.NoError(t, store.InsertCrawl(ctx, crawl))
	require.NoError(t, store.SaveSeries(ctx, series))

	require.NoError(t, store.InsertToken(ctx, &core.ExecutionToken{
		ID:      "token-1",
		CrawlID: crawl.ID,
		Created: time.Now().Add(-30 * time.Minute),
	}))

	var out bytes.Buffer
	require.NoError(t, printStatus(ctx, &out, store, ""))

	report := out.String()
	assert.Contains(t, report, "Series gps")
	assert.Contains(t, report, "gps_1")
	assert.Contains(t, report, "BACKPRESSURE")
	assert.Contains(t, report, "120")
	assert.Contains(t, report, "token-1")
	assert.Contains(t, report, "created")
}

func TestPrintStatusSelectsOneSeries(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	first := &core.Series{Name: "first"}
	second := &core.Series{Name: "second"}
	require.NoError(t, store.InsertSeries(ctx, first))
	require.NoError(t, store.InsertSeries(ctx, second))

	var out bytes.Buffer
	require.NoError(t, printStatus(ctx, &out, store, first.ID))

	assert.Contains(t, out.String(), "Series first")
	assert.NotContains(t, out.String(), "Series second")
	assert.Contains(t, out.String(), "no crawls yet")
}

func TestPrintStatusEmptyStore(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printStatus(context.Background(), &out, memstore.New(), ""))
	assert.Contains(t, out.String(), "No series configured.")
}
