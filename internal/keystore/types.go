// Package keystore is the authoritative registry of API-key records: the
// only place credit balances, access-control fields, and quota counters
// live and mutate. Every other component reaches a record through a
// KeyStore method, never by holding its own copy.
package keystore

import "time"

// MaxCredits bounds any single credit-bearing field an admin can set
// (balance, spending limit, quota limits, auto-topup daily cap).
const MaxCredits = 1_000_000_000

// MaxAutoTopupAmount bounds auto-topup threshold/amount specifically, one
// order of magnitude below MaxCredits.
const MaxAutoTopupAmount = 100_000_000

const (
	maxTags      = 50
	maxTagStrLen = 100
)

// QuotaLimits are the per-key ceilings QuotaTracker checks counters
// against. Zero means unbounded for that dimension.
type QuotaLimits struct {
	DailyCalls     int64 `json:"dailyCalls,omitempty"`
	DailyCredits   int64 `json:"dailyCredits,omitempty"`
	MonthlyCalls   int64 `json:"monthlyCalls,omitempty"`
	MonthlyCredits int64 `json:"monthlyCredits,omitempty"`
}

// AutoTopupConfig enables automatic balance replenishment once credits
// fall under Threshold.
type AutoTopupConfig struct {
	Threshold int64 `json:"threshold"`
	Amount    int64 `json:"amount"`
	MaxDaily  int64 `json:"maxDaily"` // 0 = unlimited top-ups per day
}

// ApiKeyRecord is the full state the gateway tracks for one API key. It is
// represented as a single struct with every field present (nullable ones as
// pointers) rather than an open map, so a schema change is a compile-time
// event, not a runtime one.
type ApiKeyRecord struct {
	Key string `json:"key"`

	Name       string     `json:"name"`
	Credits    int64      `json:"credits"`
	TotalSpent int64      `json:"totalSpent"`
	TotalCalls int64      `json:"totalCalls"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`

	Active    bool `json:"active"`
	Suspended bool `json:"suspended"`

	SpendingLimit int64      `json:"spendingLimit,omitempty"` // 0 = unbounded
	AllowedTools  []string   `json:"allowedTools,omitempty"`  // empty = all
	DeniedTools   []string   `json:"deniedTools,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	IPAllowlist   []string   `json:"ipAllowlist,omitempty"` // empty = all

	Tags      map[string]string `json:"tags,omitempty"`
	Namespace string            `json:"namespace,omitempty"`

	Quota               QuotaLimits `json:"quota,omitempty"`
	QuotaDailyCalls     int64       `json:"quotaDailyCalls"`
	QuotaMonthlyCalls   int64       `json:"quotaMonthlyCalls"`
	QuotaDailyCredits   int64       `json:"quotaDailyCredits"`
	QuotaMonthlyCredits int64       `json:"quotaMonthlyCredits"`
	QuotaLastResetDay   string      `json:"quotaLastResetDay,omitempty"`   // YYYY-MM-DD UTC
	QuotaLastResetMonth string      `json:"quotaLastResetMonth,omitempty"` // YYYY-MM UTC

	AutoTopup             *AutoTopupConfig `json:"autoTopup,omitempty"`
	AutoTopupTodayCount   int64            `json:"autoTopupTodayCount"`
	AutoTopupLastResetDay string           `json:"autoTopupLastResetDay,omitempty"`

	// Extra is excluded from JSON and is not filled when a record is
	// decoded: fields of a persisted record that this struct does not
	// declare are dropped on load and are not written back.
	Extra map[string]interface{} `json:"-"`
}

// Options configures a new key at creation/import time. Zero values mean
// "no restriction" for every field.
type Options struct {
	SpendingLimit int64
	AllowedTools  []string
	DeniedTools   []string
	ExpiresAt     *time.Time
	IPAllowlist   []string
	Tags          map[string]string
	Namespace     string
	Quota         QuotaLimits
	AutoTopup     *AutoTopupConfig
}

// clampCredits enforces the admin-input ceiling on any credit-bearing
// value (spec.md §6 "JSON safety": numeric admin inputs are clamped).
func clampCredits(n int64) int64 {
	if n < 0 {
		return 0
	}
	if n > MaxCredits {
		return MaxCredits
	}
	return n
}

func clampAutoTopup(n int64) int64 {
	if n < 0 {
		return 0
	}
	if n > MaxAutoTopupAmount {
		return MaxAutoTopupAmount
	}
	return n
}

// sanitizeTags truncates the tag map to maxTags entries and each key/value
// to maxTagStrLen characters, silently, never rejecting the request.
func sanitizeTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	count := 0
	for k, v := range tags {
		if count >= maxTags {
			break
		}
		if len(k) > maxTagStrLen {
			k = k[:maxTagStrLen]
		}
		if len(v) > maxTagStrLen {
			v = v[:maxTagStrLen]
		}
		out[k] = v
		count++
	}
	return out
}

func newRecord(key, name string, credits int64, opts Options, now time.Time) *ApiKeyRecord {
	return &ApiKeyRecord{
		Key:           key,
		Name:          name,
		Credits:       clampCredits(credits),
		CreatedAt:     now,
		Active:        true,
		SpendingLimit: clampCredits(opts.SpendingLimit),
		AllowedTools:  opts.AllowedTools,
		DeniedTools:   opts.DeniedTools,
		ExpiresAt:     opts.ExpiresAt,
		IPAllowlist:   opts.IPAllowlist,
		Tags:          sanitizeTags(opts.Tags),
		Namespace:     opts.Namespace,
		Quota: QuotaLimits{
			DailyCalls:     clampCredits(opts.Quota.DailyCalls),
			DailyCredits:   clampCredits(opts.Quota.DailyCredits),
			MonthlyCalls:   clampCredits(opts.Quota.MonthlyCalls),
			MonthlyCredits: clampCredits(opts.Quota.MonthlyCredits),
		},
		AutoTopup: clampedAutoTopup(opts.AutoTopup),
	}
}

func clampedAutoTopup(cfg *AutoTopupConfig) *AutoTopupConfig {
	if cfg == nil {
		return nil
	}
	return &AutoTopupConfig{
		Threshold: clampAutoTopup(cfg.Threshold),
		Amount:    clampAutoTopup(cfg.Amount),
		MaxDaily:  clampCredits(cfg.MaxDaily),
	}
}
