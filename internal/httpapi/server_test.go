package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaewoo-rain/webide-broker/internal/auth"
	"github.com/jaewoo-rain/webide-broker/internal/cache"
	"github.com/jaewoo-rain/webide-broker/internal/events"
	"github.com/jaewoo-rain/webide-broker/internal/instances"
	"github.com/jaewoo-rain/webide-broker/internal/metadataclient"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/ports"
	"github.com/jaewoo-rain/webide-broker/internal/ptybroker"
	"github.com/jaewoo-rain/webide-broker/internal/runcoordinator"
	"github.com/jaewoo-rain/webide-broker/internal/sessions"
	"github.com/jaewoo-rain/webide-broker/internal/workspace"
)

const testJWTSecret = "test-secret"

type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Category string `json:"category"`
	jwt.RegisteredClaims
}

func signToken(t *testing.T, username, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: username,
		Role:     role,
		Category: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

// fakeMetadataServer is an in-memory stand-in for the external metadata
// store, covering the subset of its surface the Instance Manager calls.
type fakeMetadataServer struct {
	mu      sync.Mutex
	records []metadataclient.Record
}

func newFakeMetadataServer() *httptest.Server {
	fm := &fakeMetadataServer{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fm.mu.Lock()
		defer fm.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/count/"):
			_ = json.NewEncoder(w).Encode(map[string]int{"count": len(fm.records)})
		case r.Method == http.MethodPost:
			var rec metadataclient.Record
			_ = json.NewDecoder(r.Body).Decode(&rec)
			fm.records = append(fm.records, rec)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(fm.records)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newManagerForTest(t *testing.T, fake *orchestrator.FakeAdapter, metaBaseURL string) *instances.Manager {
	t.Helper()
	return instances.New(instances.Config{
		Adapter:      fake,
		Metadata:     metadataclient.New(metaBaseURL, 5*time.Second),
		Allocator:    ports.New([]int{10000, 10001, 10002}),
		Cache:        cache.New(""),
		Publisher:    events.NewPublisher(""),
		VNCImage:     "vnc-webide",
		EnvDefault:   map[string]string{"VNC_PORT": "5901"},
		InternalPort: 6081,
		FreeMax:      10,
	})
}

func newTestServer(t *testing.T) (*gin.Engine, *orchestrator.FakeAdapter, *sessions.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metaSrv := newFakeMetadataServer()
	t.Cleanup(metaSrv.Close)

	fake := orchestrator.NewFakeAdapter()
	registry := sessions.New()
	mat := workspace.New(fake, "/opt/workspace")
	coord := runcoordinator.New(fake, registry, mat, "/tmp/user_venv/bin/python", "/opt/workspace")
	broker := ptybroker.New(fake, registry, events.NewPublisher(""), []string{"/bin/bash"}, "/tmp/user_venv")

	mgr := newManagerForTest(t, fake, metaSrv.URL)

	verifier := auth.NewVerifier(testJWTSecret)

	r := NewRouter(Config{
		Verifier:     verifier,
		Manager:      mgr,
		Materializer: mat,
		Coordinator:  coord,
		Broker:       broker,
		Adapter:      fake,
		VNCPassword:  "jaewoo",
	})
	return r, fake, registry
}

func doJSON(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthz(t *testing.T) {
	r, _, _ := newTestServer(t)
	rec := doJSON(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMe_RequiresAuth(t *testing.T) {
	r, _, _ := newTestServer(t)
	rec := doJSON(r, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleMe_ReturnsPrincipal(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")
	rec := doJSON(r, http.MethodGet, "/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "ROLE_FREE", resp.Role)
}

func TestHandleCreateAndListAndGetContainer(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	rec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	require.Equal(t, http.StatusOK, rec.Code)

	var created createContainerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Contains(t, created.WsURL, "cid="+created.ID)

	listRec := doJSON(r, http.MethodGet, "/containers/my", tok, nil)
	require.Equal(t, http.StatusOK, listRec.Code)

	getRec := doJSON(r, http.MethodGet, "/containers/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusOK, getRec.Code)

	urlsRec := doJSON(r, http.MethodGet, "/containers/"+created.ID+"/urls", tok, nil)
	require.Equal(t, http.StatusOK, urlsRec.Code)
	var urls containerUrlsResponse
	require.NoError(t, json.Unmarshal(urlsRec.Body.Bytes(), &urls))
	assert.Equal(t, created.ID, urls.Cid)
}

func TestHandleDeleteContainer(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	delRec := doJSON(r, http.MethodDelete, "/containers/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestHandleRenameContainer(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	renameRec := doJSON(r, http.MethodPatch, "/containers/"+created.ID, tok, renameContainerRequest{ProjectName: "new-name"})
	assert.Equal(t, http.StatusOK, renameRec.Code)
}

func TestHandleSaveAndGetFiles(t *testing.T) {
	r, fake, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	req := codeRequest{
		ContainerID: created.ID,
		Tree:        treeNode{ID: "root", Type: "folder", Children: []treeNode{{ID: "n1", Type: "file"}}},
		FileMap: map[string]fileEntry{
			"root": {Name: "", Type: "folder"},
			"n1":   {Name: "main.py", Type: "file", Content: "print(1)"},
		},
	}
	saveRec := doJSON(r, http.MethodPost, "/save", tok, req)
	require.Equal(t, http.StatusOK, saveRec.Code)

	fake.SetExecOutput("bash -c find '/opt/workspace' -print0", &orchestrator.ExecResult{Stdout: "/opt/workspace/main.py\x00"})
	fake.SetExecOutput("bash -c find '/opt/workspace' -type f -print0", &orchestrator.ExecResult{Stdout: "/opt/workspace/main.py\x00"})
	fake.SetExecOutput(`bash -c for f in '/opt/workspace/main.py'; do cat "$f"; echo "---FILE-DELIMITER---"; done`,
		&orchestrator.ExecResult{Stdout: "print(1)\n---FILE-DELIMITER---"})

	getRec := doJSON(r, http.MethodGet, "/files/"+created.ID, tok, nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	var files fileStructureResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &files))
	require.Len(t, files.Tree.Children, 1)
	assert.Equal(t, "main.py", files.FileMap[files.Tree.Children[0].ID].Name)
}

func TestHandleRun_NoSession(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	req := codeRequest{
		ContainerID: created.ID,
		SessionID:   "no-such-session",
		Tree:        treeNode{ID: "root", Type: "folder"},
		FileMap:     map[string]fileEntry{"root": {Name: "", Type: "folder"}},
	}
	runRec := doJSON(r, http.MethodPost, "/run", tok, req)
	assert.Equal(t, http.StatusNotFound, runRec.Code)
}

func TestHandleRun_Success(t *testing.T) {
	r, fake, registry := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	inst, lookupErr := fake.Lookup(context.Background(), created.ID)
	require.NoError(t, lookupErr)
	require.Nil(t, registry.Insert("sid-1", inst.ID, orchestrator.NewFakePTY()))

	req := codeRequest{
		ContainerID: created.ID,
		SessionID:   "sid-1",
		Tree:        treeNode{ID: "root", Type: "folder", Children: []treeNode{{ID: "n1", Type: "file"}}},
		FileMap: map[string]fileEntry{
			"root": {Name: "", Type: "folder"},
			"n1":   {Name: "main.py", Type: "file", Content: "print(1)"},
		},
		RunCode: "n1",
	}
	runRec := doJSON(r, http.MethodPost, "/run", tok, req)
	require.Equal(t, http.StatusOK, runRec.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &resp))
	assert.Equal(t, "cli", resp.Mode)
}

func TestHandleRenameFile(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	renameRec := doJSON(r, http.MethodPatch, "/files/"+created.ID, tok,
		renameFileRequest{OldPath: "/opt/workspace/main.py", NewName: "app.py"})
	require.Equal(t, http.StatusOK, renameRec.Code)

	var resp renameFileResponse
	require.NoError(t, json.Unmarshal(renameRec.Body.Bytes(), &resp))
	assert.Equal(t, "/opt/workspace/app.py", resp.NewPath)
}

func TestHandleDeleteFile(t *testing.T) {
	r, _, _ := newTestServer(t)
	tok := signToken(t, "alice", "ROLE_FREE")

	createRec := doJSON(r, http.MethodPost, "/containers", tok, createContainerRequest{ProjectName: "proj"})
	var created createContainerResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	delRec := doJSON(r, http.MethodDelete, "/files/"+created.ID, tok, deleteFileRequest{FilePath: "/opt/workspace/main.py"})
	assert.Equal(t, http.StatusOK, delRec.Code)
}
