package client

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/httpjson"
)

func TestRecordTokenCarriesUpstreamRejection(t *testing.T) {
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpjson.WriteError(w, errors.New(errors.CodeSessionNotFound, "session sess1 not found"))
	}))
	defer authority.Close()

	client := NewAuthorityClient(authority.URL, authority.Client())
	_, err := client.RecordToken(context.Background(), RecordTokenRequest{SessionID: "sess1"})
	if errors.CodeOf(err) != errors.CodeUpstreamRejected {
		t.Fatalf("expected UPSTREAM_REJECTED, got %v", err)
	}

	var upstream *UpstreamError
	if !stderrors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
	if upstream.UpstreamCode != errors.CodeSessionNotFound || upstream.HTTPStatus != http.StatusNotFound {
		t.Fatalf("unexpected upstream error %+v", upstream)
	}
}

func TestRecordTokenReportsUnreachableAuthority(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	client := NewAuthorityClient(down.URL, http.DefaultClient)
	_, err := client.RecordToken(context.Background(), RecordTokenRequest{SessionID: "sess1"})
	if errors.CodeOf(err) != errors.CodeUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", err)
	}
}

func TestCreateSessionDecodesAuthorityAnswer(t *testing.T) {
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/new_session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		httpjson.Write(w, http.StatusCreated, map[string]string{
			"session_id": "sess1",
			"expires_at": "2026-03-01T13:00:00Z",
		})
	}))
	defer authority.Close()

	client := NewAuthorityClient(authority.URL, authority.Client())
	session, err := client.CreateSession(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.SessionID != "sess1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", session.ExpiresAt)
	}
}

func TestInquirerFallsBackToAuthority(t *testing.T) {
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpjson.Write(w, http.StatusOK, InquiryResult{SessionExists: true, Sessions: []InquirySession{{SessionID: "sess1"}}})
	}))
	defer authority.Close()

	replica := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	replica.Close()

	inquirer := NewInquirer(replica.URL, authority.URL, http.DefaultClient)
	result, err := inquirer.Inquire(context.Background(), "s1", "u1", "tok1")
	if err != nil {
		t.Fatalf("inquire: %v", err)
	}
	if !result.SessionExists || result.Sessions[0].SessionID != "sess1" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestInquirerPrefersReplica(t *testing.T) {
	authorityCalled := false
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorityCalled = true
		httpjson.Write(w, http.StatusOK, InquiryResult{})
	}))
	defer authority.Close()

	replica := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpjson.Write(w, http.StatusOK, InquiryResult{SessionExists: true})
	}))
	defer replica.Close()

	inquirer := NewInquirer(replica.URL, authority.URL, http.DefaultClient)
	result, err := inquirer.Inquire(context.Background(), "s1", "u1", "tok1")
	if err != nil {
		t.Fatalf("inquire: %v", err)
	}
	if !result.SessionExists {
		t.Fatalf("expected replica answer, got %+v", result)
	}
	if authorityCalled {
		t.Fatal("authority should not be asked when the replica answers")
	}
}
