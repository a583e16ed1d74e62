package instances

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaewoo-rain/webide-broker/internal/auth"
	"github.com/jaewoo-rain/webide-broker/internal/cache"
	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
	"github.com/jaewoo-rain/webide-broker/internal/events"
	"github.com/jaewoo-rain/webide-broker/internal/metadataclient"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/ports"
)

func newTestManager(t *testing.T, freeMax int, existingCount int) (*Manager, *orchestrator.FakeAdapter) {
	t.Helper()

	var registered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/count/"):
			_ = json.NewEncoder(w).Encode(map[string]int{"count": existingCount})
		case r.Method == http.MethodPost:
			atomic.AddInt32(&registered, 1)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	fake := orchestrator.NewFakeAdapter()
	mgr := New(Config{
		Adapter:      fake,
		Metadata:     metadataclient.New(srv.URL, 5*time.Second),
		Allocator:    ports.New([]int{10000, 10001, 10002}),
		Cache:        cache.New(""),
		Publisher:    events.NewPublisher(""),
		VNCImage:     "vnc-webide",
		EnvDefault:   map[string]string{"VNC_PORT": "5901"},
		InternalPort: 6081,
		FreeMax:      freeMax,
	})
	return mgr, fake
}

func TestManager_Provision_Success(t *testing.T) {
	mgr, _ := newTestManager(t, 3, 0)
	principal := &auth.Principal{Username: "Alice", Role: auth.RoleFree}

	rec, err := mgr.Provision(context.Background(), principal, "tok", "", "myproj", nil)
	require.Nil(t, err)
	assert.Equal(t, "alice", rec.Name[:5])
	assert.True(t, rec.LimitedByQuota)
	assert.Equal(t, 10000, rec.Port)
}

func TestManager_Provision_QuotaExceeded(t *testing.T) {
	mgr, _ := newTestManager(t, 2, 2)
	principal := &auth.Principal{Username: "bob", Role: auth.RoleFree}

	_, err := mgr.Provision(context.Background(), principal, "tok", "", "proj", nil)
	require.NotNil(t, err)
	assert.Equal(t, apperrors.CodeQuotaExceeded, err.Code)
}

func TestManager_Provision_UnlimitedRoleSkipsQuota(t *testing.T) {
	mgr, _ := newTestManager(t, 1, 99)
	principal := &auth.Principal{Username: "carol", Role: auth.RoleMember}

	rec, err := mgr.Provision(context.Background(), principal, "tok", "", "proj", nil)
	require.Nil(t, err)
	assert.False(t, rec.LimitedByQuota)
}

func TestManager_Provision_PortExhaustion(t *testing.T) {
	mgr, fake := newTestManager(t, 3, 0)
	fake.FailCreate = &orchestrator.PortInUseError{Port: 10000}
	principal := &auth.Principal{Username: "dave", Role: auth.RoleFree}

	_, err := mgr.Provision(context.Background(), principal, "tok", "", "proj", nil)
	require.NotNil(t, err)
	assert.Equal(t, apperrors.CodeExhausted, err.Code)
}

func TestBuildAccessUrls_ForwardedHostTakesPriority(t *testing.T) {
	info := RequestInfo{
		Host:            "internal-service:8000",
		XForwardedHost:  "app.example.com",
		XForwardedProto: "https",
	}
	urls := BuildAccessUrls(info, "inst-1", 10050, "jaewoo")
	assert.Contains(t, urls.VncURL, "https://app.example.com:10050/vnc.html")
	assert.Contains(t, urls.VncURL, "autoconnect=true&encrypt=0&resize=remote&password=jaewoo")
	assert.Equal(t, "wss://app.example.com/ws?cid=inst-1&sid="+urls.SessionID, urls.WsURL)
	assert.NotEmpty(t, urls.SessionID)
}

func TestBuildAccessUrls_FallsBackToHostHeader(t *testing.T) {
	info := RequestInfo{Host: "localhost:8000", URLScheme: "http"}
	urls := BuildAccessUrls(info, "inst-2", 10001, "jaewoo")
	assert.Contains(t, urls.VncURL, "http://localhost:10001/vnc.html")
	assert.Equal(t, "ws://localhost:8000/ws?cid=inst-2&sid="+urls.SessionID, urls.WsURL)
}

func TestManager_Provision_TriesEveryPortWithinASingleNameAttempt(t *testing.T) {
	mgr, fake := newTestManager(t, 3, 0)
	principal := &auth.Principal{Username: "erin", Role: auth.RoleFree}

	// Occupy the first two candidate ports directly at the runtime level so
	// only the third (index 2) is free; a single name attempt must walk the
	// whole candidate list, not bail out after the first port it tries.
	_, err := fake.Create(context.Background(), "occupant-1", "img", nil, []orchestrator.PortMap{{Internal: 6081, External: 10000}})
	require.NoError(t, err)
	_, err = fake.Create(context.Background(), "occupant-2", "img", nil, []orchestrator.PortMap{{Internal: 6081, External: 10001}})
	require.NoError(t, err)

	rec, aerr := mgr.Provision(context.Background(), principal, "tok", "", "proj", nil)
	require.Nil(t, aerr)
	assert.Equal(t, 10002, rec.Port)
}
