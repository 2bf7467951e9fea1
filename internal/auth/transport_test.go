package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestRoundTripperAttachesCachedToken(t *testing.T) {
	store := NewFileTokenStore(t.TempDir())

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	if err := store.SaveToken(srv.URL, &oauth2.Token{AccessToken: "cached-at"}, nil); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	client := &http.Client{Transport: newRefreshRoundTripper(store, srv.URL)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer cached-at" {
		t.Errorf("Authorization = %q, want the cached token", gotAuth)
	}
}

func TestRoundTripperPassthroughWithoutToken(t *testing.T) {
	store := NewFileTokenStore(t.TempDir())

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := &http.Client{Transport: newRefreshRoundTripper(store, srv.URL)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "" {
		t.Errorf("unauthenticated request carried Authorization %q", gotAuth)
	}
	// The rejection surfaces so the connect path can start authorization.
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRoundTripperRefreshesOnRejection(t *testing.T) {
	store := NewFileTokenStore(t.TempDir())

	var tokenCalls int
	var gotResource string
	as := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		r.ParseForm()
		gotResource = r.PostForm.Get("resource")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh-at","token_type":"Bearer","expires_in":3600}`)
	}))
	defer as.Close()

	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		calls = append(calls, auth)
		if auth != "Bearer fresh-at" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	err := store.SaveToken(srv.URL, &oauth2.Token{
		AccessToken:  "stale-at",
		RefreshToken: "rt",
		Expiry:       time.Now().Add(time.Hour),
	}, nil)
	if err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	err = store.SaveClient(srv.URL, &ClientCredentials{
		ClientID: "client", TokenURL: as.URL + "/token",
	})
	if err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	client := &http.Client{Transport: newRefreshRoundTripper(store, srv.URL)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d after refresh, want 200", resp.StatusCode)
	}
	if len(calls) != 2 || calls[0] != "Bearer stale-at" || calls[1] != "Bearer fresh-at" {
		t.Errorf("request sequence = %v, want stale then fresh", calls)
	}
	if tokenCalls != 1 {
		t.Errorf("token endpoint hit %d times, want 1", tokenCalls)
	}
	if gotResource != srv.URL {
		t.Errorf("resource parameter = %q, want %q", gotResource, srv.URL)
	}

	// The refreshed token is persisted for the next process.
	stored, err := store.LoadToken(srv.URL)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if stored.AccessToken != "fresh-at" {
		t.Errorf("persisted access token = %q, want fresh-at", stored.AccessToken)
	}
}
