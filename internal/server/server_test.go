package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/spotprune/internal/models"
	"github.com/desertthunder/spotprune/internal/services"
	"github.com/desertthunder/spotprune/internal/shared"
	fakes "github.com/desertthunder/spotprune/internal/testing"
)

type fakeAuth struct {
	*fakes.FakeFactory
	exchangeErr error
}

func (f *fakeAuth) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeAuth) Exchange(ctx context.Context, code string) (*services.TokenGrant, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &services.TokenGrant{AccessToken: "at-" + code, RefreshToken: "rt-" + code, ExpiresIn: time.Hour}, nil
}

func newTestHandler(t *testing.T) (*OAuthHandler, *fakeAuth, *[]models.Profile) {
	t.Helper()

	client := fakes.NewFakeClient("alice")
	client.Profile.DisplayName = "<Alice>"
	auth := &fakeAuth{FakeFactory: fakes.NewFakeFactory(client)}

	var logins []models.Profile
	login := func(ctx context.Context, profile models.Profile, grant services.TokenGrant) (*models.User, error) {
		logins = append(logins, profile)
		return &models.User{ID: profile.ID, DisplayName: profile.DisplayName}, nil
	}

	states := NewPendingStates(time.Minute, 10, shared.NewLogger(io.Discard))
	return NewOAuthHandler(auth, states, login, shared.NewLogger(io.Discard)), auth, &logins
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func stateFrom(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("invalid redirect %q: %v", location, err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("redirect %q carries no state", location)
	}
	return state
}

func TestPendingStates(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	newStates := func(max int) *PendingStates {
		p := NewPendingStates(time.Minute, max, shared.NewLogger(io.Discard))
		p.now = func() time.Time { return now }
		return p
	}

	t.Run("Consume Once", func(t *testing.T) {
		p := newStates(10)
		if err := p.Insert("s1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !p.Consume("s1") {
			t.Error("expected first consume to succeed")
		}
		if p.Consume("s1") {
			t.Error("expected second consume to fail")
		}
		if p.Consume("unknown") {
			t.Error("expected unknown state to fail")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		p := newStates(10)
		_ = p.Insert("s1")
		p.now = func() time.Time { return now.Add(time.Minute) }

		if p.Consume("s1") {
			t.Error("expected expired state to fail")
		}
		if p.Len() != 0 {
			t.Errorf("expected consumed entry to be removed, got %d entries", p.Len())
		}
	})

	t.Run("Sweep", func(t *testing.T) {
		p := newStates(10)
		_ = p.Insert("old")
		p.now = func() time.Time { return now.Add(30 * time.Second) }
		_ = p.Insert("new")
		p.now = func() time.Time { return now.Add(time.Minute) }

		if n := p.Sweep(); n != 1 {
			t.Errorf("expected 1 swept entry, got %d", n)
		}
		if !p.Consume("new") {
			t.Error("expected unexpired state to survive the sweep")
		}
	})

	t.Run("Bounded", func(t *testing.T) {
		p := newStates(2)
		_ = p.Insert("a")
		_ = p.Insert("b")

		if err := p.Insert("c"); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable, got %v", err)
		}

		p.now = func() time.Time { return now.Add(2 * time.Minute) }
		if err := p.Insert("c"); err != nil {
			t.Fatalf("expected expired entries to make room, got %v", err)
		}
		if p.Len() != 1 {
			t.Errorf("expected 1 entry, got %d", p.Len())
		}
	})

	t.Run("Start And Stop", func(t *testing.T) {
		p := NewPendingStates(time.Millisecond, 10, shared.NewLogger(io.Discard))
		_ = p.Insert("s1")

		p.Start(time.Millisecond)
		p.Start(time.Millisecond)
		deadline := time.Now().Add(time.Second)
		for p.Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		p.Stop()
		p.Stop()

		if p.Len() != 0 {
			t.Errorf("expected background sweep to drop the entry, got %d entries", p.Len())
		}
	})
}

func TestOAuthHandler(t *testing.T) {
	t.Run("Login Redirects With State", func(t *testing.T) {
		h, _, _ := newTestHandler(t)

		rec := get(h, "/auth/login")
		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rec.Code)
		}
		stateFrom(t, rec.Header().Get("Location"))
		if h.states.Len() != 1 {
			t.Errorf("expected 1 pending state, got %d", h.states.Len())
		}
	})

	t.Run("Callback Completes Login", func(t *testing.T) {
		h, auth, logins := newTestHandler(t)
		state := stateFrom(t, get(h, "/auth/login").Header().Get("Location"))

		rec := get(h, "/auth/callback?code=abc&state="+state)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "&lt;Alice&gt;") {
			t.Errorf("expected escaped display name in body, got %s", rec.Body.String())
		}
		if len(*logins) != 1 || (*logins)[0].ID != "alice" {
			t.Errorf("expected one login for alice, got %v", *logins)
		}
		if tokens := auth.AccessTokens(); len(tokens) != 1 || tokens[0] != "at-abc" {
			t.Errorf("expected profile read with exchanged token, got %v", tokens)
		}

		select {
		case res := <-h.Results():
			if res.Err != nil || res.User.ID != "alice" {
				t.Errorf("unexpected result %+v", res)
			}
		default:
			t.Fatal("expected a login result")
		}
	})

	t.Run("State Cannot Be Replayed", func(t *testing.T) {
		h, _, logins := newTestHandler(t)
		state := stateFrom(t, get(h, "/auth/login").Header().Get("Location"))

		get(h, "/auth/callback?code=abc&state="+state)
		<-h.Results()

		rec := get(h, "/auth/callback?code=abc&state="+state)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(*logins) != 1 {
			t.Errorf("expected a single login, got %d", len(*logins))
		}
		select {
		case res := <-h.Results():
			t.Errorf("a replayed state must not produce a result, got %+v", res)
		default:
		}
	})

	t.Run("Unknown State Leaves Pending Login Waiting", func(t *testing.T) {
		h, _, logins := newTestHandler(t)
		state := stateFrom(t, get(h, "/auth/login").Header().Get("Location"))

		for _, q := range []string{"code=abc&state=bogus", "code=abc", "error=access_denied"} {
			if rec := get(h, "/auth/callback?"+q); rec.Code != http.StatusBadRequest {
				t.Fatalf("%s: expected 400, got %d", q, rec.Code)
			}
		}
		select {
		case res := <-h.Results():
			t.Fatalf("stray callbacks must not produce a result, got %+v", res)
		default:
		}

		get(h, "/auth/callback?code=abc&state="+state)
		res := <-h.Results()
		if res.Err != nil || res.User == nil {
			t.Fatalf("expected the pending login to complete, got %+v", res)
		}
		if len(*logins) != 1 {
			t.Errorf("expected a single login, got %d", len(*logins))
		}
	})

	t.Run("Denied Authorization", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		state := stateFrom(t, get(h, "/auth/login").Header().Get("Location"))

		rec := get(h, "/auth/callback?error=access_denied&state="+state)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if res := <-h.Results(); !errors.Is(res.Err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", res.Err)
		}
	})

	t.Run("Exchange Failure", func(t *testing.T) {
		h, auth, logins := newTestHandler(t)
		auth.exchangeErr = shared.ErrAuthFailed
		state := stateFrom(t, get(h, "/auth/login").Header().Get("Location"))

		rec := get(h, "/auth/callback?code=abc&state="+state)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
		if len(*logins) != 0 {
			t.Errorf("expected no login, got %d", len(*logins))
		}
	})

	t.Run("Unread Results Do Not Block", func(t *testing.T) {
		h, auth, _ := newTestHandler(t)
		auth.exchangeErr = shared.ErrAuthFailed
		for range 3 {
			state := stateFrom(t, get(h, "/auth/login").Header().Get("Location"))
			rec := get(h, "/auth/callback?code=abc&state="+state)
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", rec.Code)
			}
		}
	})
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestRouter(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("Middleware Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))

		get(r, "/x")
		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		r := NewRouter(logger, Routes{DB: pinger{}})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("Health", func(t *testing.T) {
		if rec := get(NewRouter(logger, Routes{DB: pinger{}}), "/healthz"); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}

		rec := get(NewRouter(logger, Routes{DB: pinger{err: errors.New("closed")}}), "/healthz")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "closed") {
			t.Errorf("expected error in body, got %s", rec.Body.String())
		}
	})

	t.Run("Recover", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(logger))
		r.Handle(http.MethodGet, "/panic", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		if rec := get(r, "/panic"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("Unmounted Routes", func(t *testing.T) {
		r := NewRouter(logger, Routes{})
		if rec := get(r, "/metrics"); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestServe(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("Graceful Shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		srv := New("127.0.0.1:0", http.NotFoundHandler())

		done := make(chan error, 1)
		go func() { done <- Serve(ctx, srv, logger) }()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("expected clean shutdown, got %v", err)
			}
		case <-time.After(ShutdownTimeout):
			t.Fatal("server did not shut down")
		}
	})

	t.Run("Listen Error", func(t *testing.T) {
		if err := Serve(context.Background(), New("127.0.0.1:-1", http.NotFoundHandler()), logger); err == nil {
			t.Fatal("expected listen error")
		}
	})
}
