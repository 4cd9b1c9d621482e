package quota

import (
	"testing"
	"time"

	"github.com/toolmeter/gateway/internal/keystore"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	record := &keystore.ApiKeyRecord{
		Quota: keystore.QuotaLimits{DailyCalls: 10, DailyCredits: 100},
	}
	result := Check(record, 5, keystore.QuotaLimits{})
	if !result.Allowed {
		t.Fatalf("expected allow, got deny: %s", result.Reason)
	}
}

func TestCheckDeniesAtKeyLimit(t *testing.T) {
	record := &keystore.ApiKeyRecord{
		Quota:           keystore.QuotaLimits{DailyCalls: 2},
		QuotaDailyCalls: 2,
	}
	result := Check(record, 1, keystore.QuotaLimits{})
	if result.Allowed {
		t.Fatal("expected deny at daily call limit")
	}
	if result.Reason == "" {
		t.Error("expected a reason naming the exceeded boundary")
	}
}

func TestCheckKeyReasonWinsOverGlobal(t *testing.T) {
	record := &keystore.ApiKeyRecord{
		Quota:           keystore.QuotaLimits{DailyCalls: 1},
		QuotaDailyCalls: 1,
	}
	global := keystore.QuotaLimits{DailyCalls: 1000}
	result := Check(record, 1, global)
	if result.Allowed {
		t.Fatal("expected deny")
	}
	if result.Reason != "quota_daily_calls_exceeded: limit 1" {
		t.Errorf("expected key-quota reason to win, got %q", result.Reason)
	}
}

func TestCheckFallsThroughToGlobal(t *testing.T) {
	record := &keystore.ApiKeyRecord{QuotaDailyCalls: 500}
	global := keystore.QuotaLimits{DailyCalls: 500}
	result := Check(record, 1, global)
	if result.Allowed {
		t.Fatal("expected deny against global quota")
	}
}

func TestRecordIncrementsAllFourCounters(t *testing.T) {
	record := &keystore.ApiKeyRecord{}
	Record(record, 7)
	if record.QuotaDailyCalls != 1 || record.QuotaMonthlyCalls != 1 {
		t.Errorf("expected call counters at 1, got daily=%d monthly=%d", record.QuotaDailyCalls, record.QuotaMonthlyCalls)
	}
	if record.QuotaDailyCredits != 7 || record.QuotaMonthlyCredits != 7 {
		t.Errorf("expected credit counters at 7, got daily=%d monthly=%d", record.QuotaDailyCredits, record.QuotaMonthlyCredits)
	}
}

func TestUnrecordFlooredAtZero(t *testing.T) {
	record := &keystore.ApiKeyRecord{QuotaDailyCalls: 0, QuotaDailyCredits: 2}
	Unrecord(record, 5)
	if record.QuotaDailyCalls != 0 {
		t.Errorf("expected call counter floored at 0, got %d", record.QuotaDailyCalls)
	}
	if record.QuotaDailyCredits != 0 {
		t.Errorf("expected credit counter floored at 0, got %d", record.QuotaDailyCredits)
	}
}

func TestResetIfNeededZeroesOnDateChange(t *testing.T) {
	record := &keystore.ApiKeyRecord{
		QuotaDailyCalls:     5,
		QuotaLastResetDay:   "2020-01-01",
		QuotaMonthlyCalls:   5,
		QuotaLastResetMonth: "2020-01",
	}
	ResetIfNeeded(record, time.Now())
	if record.QuotaDailyCalls != 0 {
		t.Error("expected daily calls reset on stale date")
	}
	if record.QuotaMonthlyCalls != 0 {
		t.Error("expected monthly calls reset on stale month")
	}
}

func TestResetIfNeededPreservesCurrentPeriod(t *testing.T) {
	now := time.Now().UTC()
	record := &keystore.ApiKeyRecord{
		QuotaDailyCalls:     5,
		QuotaLastResetDay:   now.Format("2006-01-02"),
		QuotaMonthlyCalls:   5,
		QuotaLastResetMonth: now.Format("2006-01"),
	}
	ResetIfNeeded(record, now)
	if record.QuotaDailyCalls != 5 || record.QuotaMonthlyCalls != 5 {
		t.Error("expected counters preserved within the same UTC period")
	}
}

func TestCheckBatchAggregates(t *testing.T) {
	record := &keystore.ApiKeyRecord{Quota: keystore.QuotaLimits{DailyCredits: 10}}
	result := CheckBatch(record, 3, 11, keystore.QuotaLimits{})
	if result.Allowed {
		t.Fatal("expected deny when aggregate credits exceed the daily limit")
	}
}

func TestRecordBatchIncrementsByAggregate(t *testing.T) {
	record := &keystore.ApiKeyRecord{}
	RecordBatch(record, 3, 15)
	if record.QuotaDailyCalls != 3 || record.QuotaDailyCredits != 15 {
		t.Errorf("unexpected counters after batch record: calls=%d credits=%d", record.QuotaDailyCalls, record.QuotaDailyCredits)
	}
}
