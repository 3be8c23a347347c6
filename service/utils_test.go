package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStringSet(t *testing.T) {
	ss := StringSet{}
	ss.Push("S2A_MSIL2A_20240101T100401_N0510_R122_T33UXP_20240101T120000.SAFE")
	ss.Push("S2B_MSIL2A_20240102T100401_N0510_R122_T33UXP_20240102T120000.SAFE")
	ss.Push("S2A_MSIL2A_20240101T100401_N0510_R122_T33UXP_20240101T120000.SAFE")
	if len(ss) != 2 {
		t.Errorf("expected 2 elements, got %d", len(ss))
	}
	if !ss.Exists("S2B_MSIL2A_20240102T100401_N0510_R122_T33UXP_20240102T120000.SAFE") {
		t.Error("element should exist")
	}
	if ss.Exists("S2A_MSIL2A_20240103T100401_N0510_R122_T33UXP_20240103T120000.SAFE") {
		t.Error("element should not exist")
	}
}

func TestGetBodyRetryReq(t *testing.T) {
	RetryBaseDelay = time.Millisecond
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	body, err := GetBodyRetryReq(context.Background(), srv.Client(), req, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"value":[]}` || calls != 3 {
		t.Errorf("unexpected body %s after %d calls", body, calls)
	}
}

func TestGetBodyRetryReqNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	_, err := GetBodyRetryReq(context.Background(), srv.Client(), req, 0)
	var herr *HTTPStatusError
	if !errors.As(err, &herr) || herr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected an HTTPStatusError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestGetBodyRetryReqPermanent(t *testing.T) {
	RetryBaseDelay = time.Millisecond
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	if _, err := GetBodyRetryReq(context.Background(), srv.Client(), req, 3); err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("a 400 must not be retried, got %d calls", calls)
	}
}
