// Package quota implements the daily/monthly call and credit counters that
// live inside an ApiKeyRecord (spec.md §4.4). It is a stateless set of
// functions operating directly on the record the KeyStore hands out under
// its writer lock, so "check then record" composes atomically with the
// caller's own lock scope rather than needing a lock of its own.
package quota

import (
	"fmt"
	"time"

	"github.com/toolmeter/gateway/internal/keystore"
)

// Result is the outcome of a quota check.
type Result struct {
	Allowed bool
	Reason  string
}

func allow() Result { return Result{Allowed: true} }

func deny(reason string) Result { return Result{Allowed: false, Reason: reason} }

// dimension describes one of the four tracked counters.
type dimension struct {
	name        string // deny-reason suffix tag, e.g. "quota_daily_calls_exceeded"
	isCredits   bool
	current     func(*keystore.ApiKeyRecord) int64
	keyLimit    func(*keystore.ApiKeyRecord) int64
	globalLimit func(keystore.QuotaLimits) int64
}

var dimensions = []dimension{
	{
		name:        "quota_daily_calls_exceeded",
		current:     func(r *keystore.ApiKeyRecord) int64 { return r.QuotaDailyCalls },
		keyLimit:    func(r *keystore.ApiKeyRecord) int64 { return r.Quota.DailyCalls },
		globalLimit: func(g keystore.QuotaLimits) int64 { return g.DailyCalls },
	},
	{
		name:        "quota_daily_credits_exceeded",
		isCredits:   true,
		current:     func(r *keystore.ApiKeyRecord) int64 { return r.QuotaDailyCredits },
		keyLimit:    func(r *keystore.ApiKeyRecord) int64 { return r.Quota.DailyCredits },
		globalLimit: func(g keystore.QuotaLimits) int64 { return g.DailyCredits },
	},
	{
		name:        "quota_monthly_calls_exceeded",
		current:     func(r *keystore.ApiKeyRecord) int64 { return r.QuotaMonthlyCalls },
		keyLimit:    func(r *keystore.ApiKeyRecord) int64 { return r.Quota.MonthlyCalls },
		globalLimit: func(g keystore.QuotaLimits) int64 { return g.MonthlyCalls },
	},
	{
		name:        "quota_monthly_credits_exceeded",
		isCredits:   true,
		current:     func(r *keystore.ApiKeyRecord) int64 { return r.QuotaMonthlyCredits },
		keyLimit:    func(r *keystore.ApiKeyRecord) int64 { return r.Quota.MonthlyCredits },
		globalLimit: func(g keystore.QuotaLimits) int64 { return g.MonthlyCredits },
	},
}

// ResetIfNeeded zeroes daily counters when the UTC date has changed since
// the last recorded reset, and monthly counters when the UTC year-month has
// changed. Must be called before Check or Record observes the counters.
func ResetIfNeeded(record *keystore.ApiKeyRecord, now time.Time) {
	now = now.UTC()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	if record.QuotaLastResetDay != today {
		record.QuotaDailyCalls = 0
		record.QuotaDailyCredits = 0
		record.QuotaLastResetDay = today
	}
	if record.QuotaLastResetMonth != month {
		record.QuotaMonthlyCalls = 0
		record.QuotaMonthlyCredits = 0
		record.QuotaLastResetMonth = month
	}
}

// Check resets stale counters, then evaluates the four dimensions in order,
// each against the key's own quota first and the global quota second (per
// key-then-global precedence: the key's own configured quota is the more
// specific, actionable signal for the caller). The first dimension/source
// combination that would be exceeded by adding this call stops the walk.
func Check(record *keystore.ApiKeyRecord, credits int64, global keystore.QuotaLimits) Result {
	ResetIfNeeded(record, time.Now())

	for _, d := range dimensions {
		amount := int64(1)
		if d.isCredits {
			amount = credits
		}
		current := d.current(record)

		if limit := d.keyLimit(record); limit > 0 && current+amount > limit {
			return deny(fmt.Sprintf("%s: limit %d", d.name, limit))
		}
		if limit := d.globalLimit(global); limit > 0 && current+amount > limit {
			return deny(fmt.Sprintf("%s: limit %d", d.name, limit))
		}
	}
	return allow()
}

// Record increments all four counters by (1 call, credits, 1 call, credits)
// after applying any pending reset.
func Record(record *keystore.ApiKeyRecord, credits int64) {
	ResetIfNeeded(record, time.Now())
	record.QuotaDailyCalls++
	record.QuotaDailyCredits += credits
	record.QuotaMonthlyCalls++
	record.QuotaMonthlyCredits += credits
}

// Unrecord decrements the counters for a refund, floored at zero.
func Unrecord(record *keystore.ApiKeyRecord, credits int64) {
	record.QuotaDailyCalls = floor0(record.QuotaDailyCalls - 1)
	record.QuotaDailyCredits = floor0(record.QuotaDailyCredits - credits)
	record.QuotaMonthlyCalls = floor0(record.QuotaMonthlyCalls - 1)
	record.QuotaMonthlyCredits = floor0(record.QuotaMonthlyCredits - credits)
}

// CheckBatch evaluates the aggregate of n calls and totalCredits against
// the same four dimensions, for batch evaluation's all-or-nothing checks.
func CheckBatch(record *keystore.ApiKeyRecord, n int64, totalCredits int64, global keystore.QuotaLimits) Result {
	ResetIfNeeded(record, time.Now())

	for _, d := range dimensions {
		amount := n
		if d.isCredits {
			amount = totalCredits
		}
		current := d.current(record)

		if limit := d.keyLimit(record); limit > 0 && current+amount > limit {
			return deny(fmt.Sprintf("%s: limit %d", d.name, limit))
		}
		if limit := d.globalLimit(global); limit > 0 && current+amount > limit {
			return deny(fmt.Sprintf("%s: limit %d", d.name, limit))
		}
	}
	return allow()
}

// RecordBatch increments counters by the aggregate call count and credits.
func RecordBatch(record *keystore.ApiKeyRecord, n int64, totalCredits int64) {
	ResetIfNeeded(record, time.Now())
	record.QuotaDailyCalls += n
	record.QuotaDailyCredits += totalCredits
	record.QuotaMonthlyCalls += n
	record.QuotaMonthlyCredits += totalCredits
}

func floor0(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
