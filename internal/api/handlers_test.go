package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calmind-app/calmind/internal/chat"
	"github.com/calmind-app/calmind/internal/identity"
	"github.com/calmind-app/calmind/internal/storage"
)

// --- mocks ---

type fakeSession struct {
	snap    chat.Snapshot
	err     error
	deleted int64

	gotEmail    string
	gotName     string
	gotText     string
	signedOut   bool
	wipedTokens int
}

func (f *fakeSession) Snapshot() chat.Snapshot { return f.snap }

func (f *fakeSession) ResolveIdentity(_ context.Context, email, desiredName string) (chat.Snapshot, error) {
	f.gotEmail = email
	f.gotName = desiredName
	return f.snap, f.err
}

func (f *fakeSession) SetCompanionName(name string) (chat.Snapshot, error) {
	f.gotName = name
	return f.snap, f.err
}

func (f *fakeSession) Begin(_ context.Context) (chat.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeSession) SendMessage(_ context.Context, text string) (chat.Snapshot, error) {
	f.gotText = text
	return f.snap, f.err
}

func (f *fakeSession) RenameCompanion(name string) (chat.Snapshot, error) {
	f.gotName = name
	return f.snap, f.err
}

func (f *fakeSession) ClearScreen() (chat.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeSession) DeleteHistory(_ chat.WipeConfirmation) (int64, error) {
	f.wipedTokens++
	return f.deleted, f.err
}

func (f *fakeSession) SignOut() chat.Snapshot {
	f.signedOut = true
	return f.snap
}

// --- helpers ---

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	h.ServeHTTP(rr, req)
	return rr
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) chat.Snapshot {
	t.Helper()
	var snap chat.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	return snap
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := NewHandler(&fakeSession{})

	rr := doRequest(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestGetSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := &fakeSession{snap: chat.Snapshot{
		State:         chat.StateActive,
		Email:         "a@x.com",
		CompanionName: "Nova",
		History: []storage.Message{
			{ID: "1", Owner: "a@x.com", Sender: storage.SenderCompanion, Body: "hello", CreatedAt: now},
		},
	}}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodGet, "/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	snap := decodeSnapshot(t, rr)
	if snap.State != chat.StateActive || snap.CompanionName != "Nova" || len(snap.History) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestResolveIdentity(t *testing.T) {
	sess := &fakeSession{snap: chat.Snapshot{State: chat.StateAwaitingCompanionName, Email: "a@x.com"}}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodPost, "/session/identity",
		`{"email":"a@x.com","companion_name":"Nova"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if sess.gotEmail != "a@x.com" || sess.gotName != "Nova" {
		t.Errorf("passed email=%q name=%q", sess.gotEmail, sess.gotName)
	}
}

func TestResolveIdentity_Invalid(t *testing.T) {
	sess := &fakeSession{err: identity.ErrInvalidIdentity}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodPost, "/session/identity", `{"email":"nope"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestResolveIdentity_BadBody(t *testing.T) {
	h := NewHandler(&fakeSession{})

	rr := doRequest(t, h, http.MethodPost, "/session/identity", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestWrongStateMapsToConflict(t *testing.T) {
	sess := &fakeSession{err: chat.ErrWrongState}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodPost, "/messages", `{"text":"hi"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}

	var body map[string]map[string]any
	json.NewDecoder(rr.Body).Decode(&body)
	if body["error"]["type"] != "invalid_request_error" {
		t.Errorf("error envelope = %v", body)
	}
}

func TestSendMessage(t *testing.T) {
	sess := &fakeSession{snap: chat.Snapshot{State: chat.StateActive}}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodPost, "/messages", `{"text":"heavy day"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if sess.gotText != "heavy day" {
		t.Errorf("text = %q, want %q", sess.gotText, "heavy day")
	}
}

func TestDeleteHistory(t *testing.T) {
	sess := &fakeSession{snap: chat.Snapshot{State: chat.StateActive}, deleted: 7}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodDelete, "/messages",
		`{"confirm":"`+chat.WipePhrase+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var body map[string]int64
	json.NewDecoder(rr.Body).Decode(&body)
	if body["deleted"] != 7 {
		t.Errorf("deleted = %d, want 7", body["deleted"])
	}
	if sess.wipedTokens != 1 {
		t.Errorf("wipe calls = %d, want 1", sess.wipedTokens)
	}
}

func TestDeleteHistory_WrongPhrase(t *testing.T) {
	sess := &fakeSession{}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodDelete, "/messages", `{"confirm":"yes"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if sess.wipedTokens != 0 {
		t.Errorf("wipe reached session without confirmation")
	}
}

func TestDeleteHistory_StoreFailure(t *testing.T) {
	sess := &fakeSession{err: errors.New("disk full")}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodDelete, "/messages",
		`{"confirm":"`+chat.WipePhrase+`"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestSignOut(t *testing.T) {
	sess := &fakeSession{snap: chat.Snapshot{State: chat.StateAwaitingIdentity}}
	h := NewHandler(sess)

	rr := doRequest(t, h, http.MethodPost, "/session/signout", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !sess.signedOut {
		t.Error("SignOut not called")
	}
	snap := decodeSnapshot(t, rr)
	if snap.State != chat.StateAwaitingIdentity {
		t.Errorf("state = %q, want %q", snap.State, chat.StateAwaitingIdentity)
	}
}

func TestBearerAuth(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := BearerAuth("secret-token")(inner)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer secret-token", http.StatusOK},
		{"wrong token", "Bearer other", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic secret-token", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/session", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}
