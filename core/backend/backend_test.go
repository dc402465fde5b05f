package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/backend/archive"
	"github.com/relabs-tech/marina/core/backend/store"
	"github.com/relabs-tech/marina/core/client"
)

// recordingNotifier captures notifications for assertions
type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []string
}

func (n *recordingNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.notifications = append(n.notifications, resource+"."+string(operation))
}

func (n *recordingNotifier) all() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]string{}, n.notifications...)
}

type testService struct {
	backend  *Backend
	store    *store.Memory
	router   *mux.Router
	notifier *recordingNotifier
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	router := mux.NewRouter()
	mem := store.NewMemory()
	notifier := &recordingNotifier{}
	archiveDriver, err := archive.NewLocalFilesystem(t.TempDir())
	require.NoError(t, err)
	b := New(&Builder{
		Store:     mem,
		Router:    router,
		Notifier:  notifier,
		Archive:   archiveDriver,
		PublicURL: "http://localhost:3000",
	})
	return &testService{backend: b, store: mem, router: router, notifier: notifier}
}

// client returns an authenticated but unregistered client
func (s *testService) client(subject string) client.Client {
	return client.NewWithRouter(s.router).WithIdentity(subject)
}

// registeredClient returns a client whose subject is a registered user
func (s *testService) registeredClient(t *testing.T, subject string) client.Client {
	t.Helper()
	_, err := s.store.Put(context.Background(), kindUser, subject, userEntity{})
	require.NoError(t, err)
	return s.client(subject)
}

// request makes a raw request through the router, for tests that assert
// error statuses and bodies
func (s *testService) request(c client.Client, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader).WithContext(c.Context())
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		r.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	return rec
}

// cursorParam extracts the cursor from a next link
func cursorParam(t *testing.T, next string) string {
	t.Helper()
	u, err := url.Parse(next)
	require.NoError(t, err)
	return url.QueryEscape(u.Query().Get("cursor"))
}

func TestMethodNotAllowedOnCollectionRoot(t *testing.T) {
	s := newTestService(t)
	c := s.client("alice").WithHeader("Accept", "application/json")

	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rec := s.request(c, method, "/loads", "", map[string]string{"Accept": "application/json"})
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.JSONEq(t, `{"Error":"The method is not allowed for this route"}`, rec.Body.String(), method)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestService(t)
	rec := s.request(client.NewWithRouter(s.router), http.MethodOptions, "/boats", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListQueryLimits(t *testing.T) {
	s := newTestService(t)
	c := s.registeredClient(t, "alice")

	for _, invalid := range []string{"/boats?limit=0", "/boats?limit=101", "/boats?limit=many"} {
		rec := s.request(c, http.MethodGet, invalid, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, invalid)
	}

	status, err := c.RawGet("/boats?limit=100", nil)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestListRejectsMalformedCursor(t *testing.T) {
	s := newTestService(t)
	c := s.registeredClient(t, "alice")

	headers := map[string]string{"Accept": "application/json"}
	for _, path := range []string{"/boats?cursor=%25%25%25", "/loads?cursor=aGVsbG8="} {
		rec := s.request(c, http.MethodGet, path, "", headers)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "invalid cursor", path)
	}
}
