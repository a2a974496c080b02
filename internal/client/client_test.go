package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mkv-converter/pkg/models"
)

func testPayload() models.RunSummaryPayload {
	report := models.RunReport{
		RunID: "run-42",
		Outcomes: []models.Outcome{
			{Job: models.Job{Input: models.InputDescriptor{RelPath: "a.mkv"}}, Success: true},
			{Job: models.Job{Input: models.InputDescriptor{RelPath: "b.mkv"}}, Category: models.CategoryEngine, Message: "exit status 1"},
		},
		Totals: models.Totals{Jobs: 2, Succeeded: 1, Failed: 1},
	}
	now := time.Now()
	return models.NewRunSummaryPayload(report, now.Add(-time.Minute), now)
}

func TestNotifyRun_PostsJSON(t *testing.T) {
	var got models.RunSummaryPayload
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		header = r.Header.Get("X-Run-ID")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhookClient(srv.URL).NotifyRun(context.Background(), testPayload()); err != nil {
		t.Fatalf("NotifyRun: %v", err)
	}
	if header != "run-42" || got.RunID != "run-42" {
		t.Errorf("run id header=%q body=%q", header, got.RunID)
	}
	if got.Status != "COMPLETED_WITH_FAILURES" || len(got.Failures) != 1 || got.Failures[0].File != "b.mkv" {
		t.Errorf("payload = %+v", got)
	}
}

func TestNotifyRun_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newWebhookClient(srv.URL, 3, time.Millisecond, 5*time.Millisecond)
	if err := c.NotifyRun(context.Background(), testPayload()); err != nil {
		t.Fatalf("NotifyRun: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestNotifyRun_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newWebhookClient(srv.URL, 3, time.Millisecond, 5*time.Millisecond)
	err := c.NotifyRun(context.Background(), testPayload())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want StatusError 400", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestNotifyRun_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newWebhookClient(srv.URL, 1, time.Millisecond, 2*time.Millisecond)
	if err := c.NotifyRun(context.Background(), testPayload()); err == nil {
		t.Fatal("expected error after retries are exhausted")
	}
}
