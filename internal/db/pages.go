package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonathan/research-orchestrator/internal/fetch"
)

var _ fetch.PageStore = (*DB)(nil)

// DefaultPageCacheTTL is how long a fetched page is served from the cache
const DefaultPageCacheTTL = 7 * 24 * time.Hour

// FetchStatus constants for fetched pages
const (
	FetchStatusSuccess  = "success"   // Page fetched successfully
	FetchStatusError    = "error"     // Generic error (may retry)
	FetchStatusNotFound = "not_found" // 404/410 - permanent failure
	FetchStatusBlocked  = "blocked"   // 403/429 - blocked by server
)

// CachedPage is a row of fetched_pages
type CachedPage struct {
	URL                string
	SourceKind         string
	ParsedText         *string
	ContentHash        *string
	HTTPStatus         *int
	FetchStatus        string
	ErrorMessage       *string
	IsPermanentFailure bool
	RetryCount         int
	RetryAfter         *time.Time
	FetchedAt          time.Time
	ExpiresAt          *time.Time
	LastAccessedAt     time.Time
}

// IsFresh returns true if the page was fetched within maxAge of now
func (p *CachedPage) IsFresh(maxAge time.Duration, now time.Time) bool {
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return false
	}
	return now.Sub(p.FetchedAt) < maxAge
}

// IsPermanentHTTPStatus returns true for status codes that indicate permanent failure
func IsPermanentHTTPStatus(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusGone, http.StatusUnavailableForLegalReasons:
		return true
	default:
		return false
	}
}

// FetchStatusFromHTTP determines fetch status from HTTP status code
func FetchStatusFromHTTP(status int) string {
	switch {
	case status >= 200 && status < 300:
		return FetchStatusSuccess
	case status == http.StatusNotFound || status == http.StatusGone:
		return FetchStatusNotFound
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return FetchStatusBlocked
	default:
		return FetchStatusError
	}
}

// HashContent computes SHA-256 hash of content for change detection
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// GetCachedPage retrieves a page row by URL. Returns nil if never fetched.
func (db *DB) GetCachedPage(ctx context.Context, pageURL string) (*CachedPage, error) {
	var p CachedPage
	err := db.pool.QueryRow(ctx,
		`SELECT url, source_kind, parsed_text, content_hash, http_status, fetch_status, error_message,
		        is_permanent_failure, retry_count, retry_after, fetched_at, expires_at, last_accessed_at
		 FROM fetched_pages WHERE url = $1`,
		pageURL,
	).Scan(&p.URL, &p.SourceKind, &p.ParsedText, &p.ContentHash, &p.HTTPStatus, &p.FetchStatus, &p.ErrorMessage,
		&p.IsPermanentFailure, &p.RetryCount, &p.RetryAfter, &p.FetchedAt, &p.ExpiresAt, &p.LastAccessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached page: %w", err)
	}
	return &p, nil
}

// GetFreshPage returns the cached text of pageURL if it was fetched
// successfully within maxAge. A miss returns nil.
func (db *DB) GetFreshPage(ctx context.Context, pageURL string, maxAge time.Duration) (*fetch.Page, error) {
	row, err := db.GetCachedPage(ctx, pageURL)
	if err != nil || row == nil {
		return nil, err
	}
	if row.FetchStatus != FetchStatusSuccess || row.ParsedText == nil || !row.IsFresh(maxAge, db.now()) {
		return nil, nil
	}

	if _, err := db.pool.Exec(ctx, `UPDATE fetched_pages SET last_accessed_at = NOW() WHERE url = $1`, pageURL); err != nil {
		return nil, fmt.Errorf("failed to touch cached page: %w", err)
	}
	return &fetch.Page{URL: row.URL, Text: *row.ParsedText, Kind: fetch.SourceKind(row.SourceKind)}, nil
}

// UpsertPage stores a successfully fetched page and clears any failure state
func (db *DB) UpsertPage(ctx context.Context, page *fetch.Page) error {
	expiresAt := db.now().Add(DefaultPageCacheTTL)
	_, err := db.pool.Exec(ctx,
		`INSERT INTO fetched_pages (url, source_kind, parsed_text, content_hash, http_status, fetch_status,
		                            retry_count, fetched_at, expires_at, last_accessed_at)
		 VALUES ($1, $2, $3, $4, 200, $5, 0, NOW(), $6, NOW())
		 ON CONFLICT (url) DO UPDATE SET
		     source_kind = $2,
		     parsed_text = $3,
		     content_hash = $4,
		     http_status = 200,
		     fetch_status = $5,
		     error_message = NULL,
		     is_permanent_failure = FALSE,
		     retry_count = 0,
		     retry_after = NULL,
		     fetched_at = NOW(),
		     expires_at = $6,
		     last_accessed_at = NOW()`,
		page.URL, string(page.Kind), page.Text, HashContent(page.Text), FetchStatusSuccess, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cached page: %w", err)
	}
	return nil
}

// RecordFailedFetch records a failed fetch attempt with exponential backoff.
// httpStatus is 0 when no response was received.
func (db *DB) RecordFailedFetch(ctx context.Context, pageURL string, httpStatus int, errorMsg string) error {
	fetchStatus := FetchStatusFromHTTP(httpStatus)
	isPermanent := IsPermanentHTTPStatus(httpStatus)
	var status *int
	if httpStatus > 0 {
		status = &httpStatus
	}

	// Calculate retry backoff: 1 min * 5^retry_count, capped at 2 hours
	// Schedule: 1 min → 5 min → 25 min → 2 hours
	// For permanent failures, set retry_after to NULL (never retry)
	_, err := db.pool.Exec(ctx,
		`INSERT INTO fetched_pages (url, http_status, fetch_status, error_message, is_permanent_failure, retry_count, retry_after, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, 1,
		         CASE WHEN $5 THEN NULL ELSE NOW() + INTERVAL '1 minute' END,
		         NOW())
		 ON CONFLICT (url) DO UPDATE SET
		     http_status = $2,
		     fetch_status = $3,
		     error_message = $4,
		     is_permanent_failure = $5 OR fetched_pages.is_permanent_failure,
		     retry_count = fetched_pages.retry_count + 1,
		     retry_after = CASE
		         WHEN $5 OR fetched_pages.is_permanent_failure THEN NULL
		         ELSE NOW() + LEAST(
		             INTERVAL '1 minute' * POWER(5, LEAST(fetched_pages.retry_count, 3)),
		             INTERVAL '2 hours'
		         )
		     END,
		     fetched_at = NOW()`,
		pageURL, status, fetchStatus, errorMsg, isPermanent,
	)
	if err != nil {
		return fmt.Errorf("failed to record failed fetch: %w", err)
	}
	return nil
}

// ShouldSkipURL checks if a URL should be skipped due to a previous failure
func (db *DB) ShouldSkipURL(ctx context.Context, pageURL string) (bool, string, error) {
	page, err := db.GetCachedPage(ctx, pageURL)
	if err != nil {
		return false, "", err
	}
	if page == nil {
		return false, "", nil // Never tried, don't skip
	}

	// Skip permanently failed pages forever
	if page.IsPermanentFailure {
		reason := "permanent failure"
		if page.ErrorMessage != nil {
			reason = *page.ErrorMessage
		}
		return true, reason, nil
	}

	if page.RetryAfter != nil && db.now().Before(*page.RetryAfter) {
		return true, "retry backoff", nil
	}

	return false, "", nil
}

// DeleteExpiredPages removes successful pages that have passed their expires_at
func (db *DB) DeleteExpiredPages(ctx context.Context) (int64, error) {
	result, err := db.pool.Exec(ctx, `DELETE FROM fetched_pages WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired pages: %w", err)
	}
	return result.RowsAffected(), nil
}
