// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJobFinished(t *testing.T) {
	before := testutil.ToFloat64(QueueJobsFinished.WithLabelValues("enrich-item", "completed"))
	RecordJobFinished("enrich-item", "completed", 20*time.Millisecond)
	after := testutil.ToFloat64(QueueJobsFinished.WithLabelValues("enrich-item", "completed"))
	if after-before != 1 {
		t.Errorf("completed counter delta = %v, want 1", after-before)
	}
}

func TestRecordRefresh(t *testing.T) {
	okBefore := testutil.ToFloat64(RefreshRuns.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(RefreshRuns.WithLabelValues("error"))
	dupBefore := testutil.ToFloat64(RefreshDuplicates)

	RecordRefresh(time.Second, 2, nil)
	RecordRefresh(time.Second, 0, errors.New("provider down"))

	if d := testutil.ToFloat64(RefreshRuns.WithLabelValues("ok")) - okBefore; d != 1 {
		t.Errorf("ok delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(RefreshRuns.WithLabelValues("error")) - errBefore; d != 1 {
		t.Errorf("error delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(RefreshDuplicates) - dupBefore; d != 2 {
		t.Errorf("duplicates delta = %v, want 2", d)
	}
}

func TestRecordSync_LastSuccessOnlyWhenNotFailed(t *testing.T) {
	RecordSync("srv-metrics-test", "failed", time.Second)
	if v := testutil.ToFloat64(SyncLastSuccess.WithLabelValues("srv-metrics-test")); v != 0 {
		t.Errorf("last success set after failed run: %v", v)
	}
	RecordSync("srv-metrics-test", "partial", time.Second)
	if v := testutil.ToFloat64(SyncLastSuccess.WithLabelValues("srv-metrics-test")); v == 0 {
		t.Error("last success not set after partial run")
	}
}

func TestTrackActiveRequest(t *testing.T) {
	start := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if d := testutil.ToFloat64(APIActiveRequests) - start; d != 1 {
		t.Errorf("active delta = %v, want 1", d)
	}
}

func TestRecordDBQueryError(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("insert", "sync_runs"))
	RecordDBQuery("insert", "sync_runs", time.Millisecond, errors.New("disk full"))
	if d := testutil.ToFloat64(DBQueryErrors.WithLabelValues("insert", "sync_runs")) - before; d != 1 {
		t.Errorf("error delta = %v, want 1", d)
	}
}
