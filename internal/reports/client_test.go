package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-ledger/internal/backend"
	"report-ledger/internal/domain"
	"report-ledger/internal/session"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func newTestBackend(t *testing.T, handler http.Handler) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return backend.NewClient(backend.Config{BaseURL: srv.URL, APIKey: "anon-key"})
}

func rowJSON(id, userID, createdAt string) string {
	return `{"id": "` + id + `", "user_id": "` + userID + `", "report_at": "2024-01-01T10:00:00Z",
		"amount": 10, "description": "", "created_at": "` + createdAt + `"}`
}

func TestListAbsentPrincipal(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})), staticToken(""), nil)

	list, err := c.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, calls.Load(), "absent principal makes no network call")
}

func TestListOwnReports(t *testing.T) {
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
		w.Write([]byte(`[` + rowJSON("r2", "u1", "2024-01-02T10:00:00Z") + `,` + rowJSON("r1", "u1", "2024-01-01T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	p := &domain.Principal{ID: "u1"}
	list, err := c.List(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, !list[0].CreatedAt.Before(list[1].CreatedAt), "newest first")

	view, state, lastErr := c.Snapshot()
	assert.Len(t, view, 2)
	assert.Equal(t, StateReady, state)
	assert.NoError(t, lastErr)
}

func TestListPrivilegedSeesAll(t *testing.T) {
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("user_id"), "privileged list is unfiltered")
		w.Write([]byte(`[` + rowJSON("r2", "u2", "2024-01-02T10:00:00Z") + `,` + rowJSON("r1", "u1", "2024-01-01T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	admin := &domain.Principal{ID: "u3", Privileged: true}
	list, err := c.List(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u2", list[0].UserID)
	assert.Equal(t, "u1", list[1].UserID)
}

func TestListErrorKeepsPreviousView(t *testing.T) {
	var fail atomic.Bool
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message": "boom"}`))
			return
		}
		w.Write([]byte(`[` + rowJSON("r1", "u1", "2024-01-01T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	p := &domain.Principal{ID: "u1"}
	_, err := c.List(context.Background(), p)
	require.NoError(t, err)

	fail.Store(true)
	_, err = c.List(context.Background(), p)
	var backendErr *backend.BackendError
	require.ErrorAs(t, err, &backendErr)

	view, state, lastErr := c.Snapshot()
	assert.Len(t, view, 1, "previous view stays available on failure")
	assert.Equal(t, StateError, state)
	assert.Error(t, lastErr)
}

func TestCreateForcesOwnerAndPrepends(t *testing.T) {
	var inserted struct {
		UserID string  `json:"user_id"`
		Amount float64 `json:"amount"`
	}
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`[` + rowJSON("r1", "u1", "2024-01-01T10:00:00Z") + `]`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inserted))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[` + rowJSON("r9", "u1", "2024-01-05T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	p := &domain.Principal{ID: "u1"}
	_, err := c.List(context.Background(), p)
	require.NoError(t, err)

	created, err := c.Create(context.Background(), p, domain.ReportInput{Amount: "50", Description: "lunch"})
	require.NoError(t, err)
	assert.Equal(t, "r9", created.ID)
	assert.Equal(t, "u1", inserted.UserID, "owner forced to the signed-in principal")
	assert.Equal(t, 50.0, inserted.Amount)

	view, state, _ := c.Snapshot()
	require.NotEmpty(t, view)
	assert.Equal(t, "r9", view[0].ID, "new report is prepended")
	assert.Len(t, view, 2)
	assert.Equal(t, StateReady, state)
}

func TestCreateCoercesAmount(t *testing.T) {
	var inserted struct {
		Amount float64 `json:"amount"`
	}
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inserted))
		w.Write([]byte(`[` + rowJSON("r9", "u1", "2024-01-05T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	p := &domain.Principal{ID: "u1"}
	_, err := c.Create(context.Background(), p, domain.ReportInput{Amount: "abc"})
	require.NoError(t, err)
	assert.Zero(t, inserted.Amount, "non-numeric amount coerced to 0")
}

func TestCreateRequiresPrincipal(t *testing.T) {
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})), staticToken(""), nil)
	_, err := c.Create(context.Background(), nil, domain.ReportInput{})
	assert.ErrorIs(t, err, ErrNoPrincipal)
}

func TestRemoveDropsFromViewWithoutRefetch(t *testing.T) {
	var selects atomic.Int32
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			selects.Add(1)
			w.Write([]byte(`[` + rowJSON("r2", "u1", "2024-01-02T10:00:00Z") + `,` + rowJSON("r1", "u1", "2024-01-01T10:00:00Z") + `]`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})), staticToken("tok"), nil)

	p := &domain.Principal{ID: "u1"}
	_, err := c.List(context.Background(), p)
	require.NoError(t, err)

	require.NoError(t, c.Remove(context.Background(), "r2"))

	view, state, _ := c.Snapshot()
	require.Len(t, view, 1)
	assert.Equal(t, "r1", view[0].ID)
	assert.Equal(t, StateReady, state)
	assert.Equal(t, int32(1), selects.Load(), "delete does not trigger a refetch")
}

func TestStaleFetchDiscarded(t *testing.T) {
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "eq.u1" {
			close(firstStarted)
			<-release
			w.Write([]byte(`[` + rowJSON("stale", "u1", "2024-01-01T10:00:00Z") + `]`))
			return
		}
		w.Write([]byte(`[` + rowJSON("fresh", "u2", "2024-01-02T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	u1 := &domain.Principal{ID: "u1"}
	u2 := &domain.Principal{ID: "u2"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.List(context.Background(), u1)
	}()

	<-firstStarted
	// a faster sign-out/sign-in switched the principal while the first
	// fetch was still in flight
	_, err := c.List(context.Background(), u2)
	require.NoError(t, err)

	close(release)
	<-done

	view, _, _ := c.Snapshot()
	require.Len(t, view, 1)
	assert.Equal(t, "fresh", view[0].ID, "late response for the old principal must not land")
}

func TestRunFollowsSessionChanges(t *testing.T) {
	c := NewClient(newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[` + rowJSON("r1", "u1", "2024-01-01T10:00:00Z") + `]`))
	})), staticToken("tok"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan session.Change, 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, changes)
	}()

	changes <- session.Change{Principal: &domain.Principal{ID: "u1"}}
	require.Eventually(t, func() bool {
		view, _, _ := c.Snapshot()
		return len(view) == 1
	}, time.Second, 10*time.Millisecond, "sign-in triggers a fetch")

	changes <- session.Change{Principal: nil}
	require.Eventually(t, func() bool {
		view, state, _ := c.Snapshot()
		return len(view) == 0 && state == StateIdle
	}, time.Second, 10*time.Millisecond, "sign-out clears the view")

	close(changes)
	<-done
}
