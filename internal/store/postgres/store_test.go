package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/crawlforge/crawld/internal/crawl"
)

func TestUpsertSessionWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	session := crawl.CrawlSession{
		ID:             "sess-1",
		Strategy:       crawl.StrategyBreadthFirst,
		MaxPages:       100,
		MaxDepth:       3,
		PagesCompleted: 12,
		Status:         crawl.SessionRunning,
		StartedAt:      now,
	}

	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs(
			session.ID, "breadth_first", session.MaxPages, session.MaxDepth,
			session.PagesCompleted, session.PagesFailed, session.Retries,
			"running", session.LastError, session.StartedAt, session.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSession(context.Background(), session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "strategy", "max_pages", "max_depth", "pages_completed", "pages_failed",
		"retries", "status", "last_error", "started_at", "finished_at",
	}).AddRow("sess-1", "depth_first", 50, 2, 50, 1, 3, "completed", "", now, (*time.Time)(nil))

	mock.ExpectQuery("FROM crawl_sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(rows)

	session, err := store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, crawl.StrategyDepthFirst, session.Strategy)
	require.Equal(t, crawl.SessionCompleted, session.Status)
	require.Equal(t, 50, session.PagesCompleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("FROM crawl_sessions WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = store.GetSession(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPageInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	page := crawl.PageRecord{
		SessionID:  "sess-1",
		URL:        "https://example.com/a",
		Depth:      1,
		StatusCode: 200,
		ProxyID:    "proxy-1",
		FetchedAt:  now,
		DurationMs: 184,
		LinkCount:  7,
		BlobURI:    "gs://bucket/sess-1/a",
	}

	mock.ExpectExec("INSERT INTO page_records").
		WithArgs(
			page.SessionID, page.URL, page.Depth, page.StatusCode, page.ProxyID,
			page.FetchedAt, page.DurationMs, page.LinkCount, page.BlobURI,
			false, "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertJobMarshalsConfig(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := crawl.ScheduledJob{
		ID:          "job-1",
		Kind:        crawl.ScheduleInterval,
		Interval:    5 * time.Minute,
		NextRunAt:   now,
		MaxRetries:  2,
		Status:      crawl.JobActive,
		Seeds:       []string{"https://example.com"},
		SubmittedAt: now,
	}

	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WithArgs(
			job.ID, "interval", job.RunAt, int64(300000), "", job.NextRunAt,
			job.LastRunResult, job.RetryCount, job.MaxRetries, job.ConcurrencyGroup,
			"active", pgxmock.AnyArg(), pgxmock.AnyArg(), job.SubmittedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobDecodesJSON(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "kind", "run_at", "interval_ms", "cron_expr", "next_run_at", "last_run_result",
		"retry_count", "max_retries", "concurrency_group", "status", "seeds", "session_config", "submitted_at",
	}).AddRow(
		"job-1", "cron", time.Time{}, int64(0), "*/5 * * * *", now, "",
		0, 3, "news", "active",
		[]byte(`["https://example.com"]`),
		[]byte(`{"strategy":"breadth_first","max_pages":100}`),
		now,
	)

	mock.ExpectQuery("FROM scheduled_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawl.ScheduleCron, job.Kind)
	require.Equal(t, []string{"https://example.com"}, job.Seeds)
	require.Equal(t, crawl.StrategyBreadthFirst, job.Session.Strategy)
	require.Equal(t, 100, job.Session.MaxPages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM scheduled_jobs").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = store.DeleteJob(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProxyWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	until := time.Unix(1700000600, 0).UTC()
	proxy := crawl.ProxyRecord{
		ID:               "proxy-1",
		Endpoint:         "http://10.0.0.1:8080",
		Protocols:        []string{"http", "https"},
		Region:           "us-east",
		SuccessCount:     40,
		FailureCount:     3,
		AverageLatency:   220 * time.Millisecond,
		BlacklistedUntil: &until,
		QualityScore:     0.8,
	}

	mock.ExpectExec("INSERT INTO proxy_records").
		WithArgs(
			proxy.ID, proxy.Endpoint, []byte(`["http","https"]`), proxy.Region,
			proxy.SuccessCount, proxy.FailureCount, int64(220),
			(*time.Time)(nil), proxy.BlacklistedUntil, proxy.QualityScore,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertProxy(context.Background(), proxy))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListProxiesDecodesProtocols(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "endpoint", "protocols", "region", "success_count", "failure_count",
		"average_latency_ms", "last_used_at", "blacklisted_until", "quality_score",
	}).AddRow(
		"proxy-1", "http://10.0.0.1:8080", []byte(`["socks5"]`), "eu-west",
		10, 1, int64(95), &now, (*time.Time)(nil), 0.7,
	)

	mock.ExpectQuery("FROM proxy_records ORDER BY id").
		WillReturnRows(rows)

	proxies, err := store.ListProxies(context.Background())
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	require.Equal(t, []string{"socks5"}, proxies[0].Protocols)
	require.Equal(t, 95*time.Millisecond, proxies[0].AverageLatency)
	require.Equal(t, now, proxies[0].LastUsedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
