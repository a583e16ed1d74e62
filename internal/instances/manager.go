// Package instances implements the Instance Manager (spec.md §4.5): the
// provisioning protocol, the Access URL builder, and the thin wrappers
// around list/resolve/teardown/rename that compose the Orchestrator
// Adapter, the Metadata Client, and the Port Allocator.
package instances

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaewoo-rain/webide-broker/internal/auth"
	"github.com/jaewoo-rain/webide-broker/internal/cache"
	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
	"github.com/jaewoo-rain/webide-broker/internal/events"
	"github.com/jaewoo-rain/webide-broker/internal/logger"
	"github.com/jaewoo-rain/webide-broker/internal/metadataclient"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/ports"
)

const maxProvisionAttempts = 50

// Record is what Provision returns: the live instance plus the data the
// HTTP layer renders in a CreateContainerResponse.
type Record struct {
	ID             string
	Name           string
	Image          string
	Owner          string
	Role           auth.Role
	ProjectName    string
	Port           int
	LimitedByQuota bool
}

// Manager wires the Orchestrator Adapter, Metadata Client, and Port
// Allocator into the provisioning protocol and its supporting operations.
type Manager struct {
	adapter      orchestrator.Adapter
	metadata     *metadataclient.Client
	allocator    *ports.Allocator
	cache        *cache.Cache
	publisher    *events.Publisher
	vncImage     string
	envDefault   map[string]string
	internalPort int
	freeMax      int

	mu sync.Mutex // process-wide: serializes the whole provisioning attempt loop
}

// Config bundles the Manager's collaborators and static settings.
type Config struct {
	Adapter      orchestrator.Adapter
	Metadata     *metadataclient.Client
	Allocator    *ports.Allocator
	Cache        *cache.Cache
	Publisher    *events.Publisher
	VNCImage     string
	EnvDefault   map[string]string
	InternalPort int
	FreeMax      int
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	return &Manager{
		adapter:      cfg.Adapter,
		metadata:     cfg.Metadata,
		allocator:    cfg.Allocator,
		cache:        cfg.Cache,
		publisher:    cfg.Publisher,
		vncImage:     cfg.VNCImage,
		envDefault:   cfg.EnvDefault,
		internalPort: cfg.InternalPort,
		freeMax:      cfg.FreeMax,
	}
}

// Provision runs the full provisioning protocol (spec.md §4.5): quota
// check, then up to maxProvisionAttempts candidate names, each tried
// against every pool port, compensating for partial failure at every step.
func (m *Manager) Provision(ctx context.Context, principal *auth.Principal, bearerToken, image, projectName string, env map[string]string) (*Record, *apperrors.AppError) {
	log := logger.Instances()

	if !principal.Role.Unlimited() {
		count, aerr := m.countWithCache(ctx, bearerToken, principal.Username)
		if aerr != nil {
			return nil, aerr
		}
		if count >= m.freeMax {
			return nil, apperrors.QuotaExceeded(fmt.Sprintf("free tier is limited to %d instances", m.freeMax))
		}
	}

	if image == "" {
		image = m.vncImage
	}

	mergedEnv := map[string]string{}
	for k, v := range m.envDefault {
		mergedEnv[k] = v
	}
	for k, v := range env {
		mergedEnv[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.allocator.Candidates(func(p int) bool { return false })
	if len(candidates) == 0 {
		return nil, apperrors.NoExternalPort()
	}

	var (
		instance   *orchestrator.Instance
		chosenPort int
		lastErr    error
	)

nameLoop:
	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		name := fmt.Sprintf("%s-%s", sanitizeName(principal.Username), randomHex(4))

		for _, port := range candidates {
			created, err := m.adapter.Create(ctx, name, image, mergedEnv, []orchestrator.PortMap{{Internal: m.internalPort, External: port}})
			if err == nil {
				instance = created
				chosenPort = port
				break nameLoop
			}

			lastErr = err
			if _, ok := err.(*orchestrator.PortInUseError); ok {
				continue
			}
			if _, ok := err.(*orchestrator.NameInUseError); ok {
				continue nameLoop
			}
			return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to provision instance", err)
		}
	}

	if instance == nil {
		log.Warn().Err(lastErr).Int("attempts", maxProvisionAttempts).Int("ports", len(candidates)).Msg("provisioning exhausted all attempts")
		return nil, apperrors.Exhausted("could not find a free name/port after maximum attempts")
	}

	rec := metadataclient.Record{
		ContainerID:   instance.ID,
		ContainerName: instance.Name,
		OwnerUsername: principal.Username,
		ImageName:     image,
		Status:        "Running",
		ProjectName:   projectName,
		Port:          chosenPort,
	}
	if aerr := m.metadata.RegisterInstance(ctx, bearerToken, rec); aerr != nil {
		_ = m.adapter.Destroy(ctx, instance)
		return nil, aerr
	}

	m.cache.InvalidateInstanceCount(ctx, principal.Username)
	m.publisher.InstanceCreated(instance.ID, principal.Username, projectName)

	log.Info().Str("instance_id", instance.ID).Str("owner", principal.Username).Msg("instance provisioned")

	return &Record{
		ID: instance.ID, Name: instance.Name, Image: image, Owner: principal.Username,
		Role: principal.Role, ProjectName: projectName, Port: chosenPort,
		LimitedByQuota: principal.Role == auth.RoleFree,
	}, nil
}

func (m *Manager) countWithCache(ctx context.Context, bearerToken, username string) (int, *apperrors.AppError) {
	if n, ok := m.cache.GetInstanceCount(ctx, username); ok {
		return n, nil
	}
	count, aerr := m.metadata.CountInstances(ctx, bearerToken, username)
	if aerr != nil {
		return 0, aerr
	}
	m.cache.SetInstanceCount(ctx, username, count, 10*time.Second)
	return count, nil
}

// List returns the metadata records visible to the principal.
func (m *Manager) List(ctx context.Context, bearerToken string) ([]metadataclient.Record, *apperrors.AppError) {
	return m.metadata.ListInstances(ctx, bearerToken)
}

// Resolve looks up a live instance handle by id or unique prefix.
func (m *Manager) Resolve(ctx context.Context, idOrPrefix string) (*orchestrator.Instance, *apperrors.AppError) {
	inst, err := m.adapter.Lookup(ctx, idOrPrefix)
	if err != nil {
		if le, ok := err.(*orchestrator.LookupError); ok {
			if le.Ambiguous {
				return nil, apperrors.Conflict(le.Message)
			}
			return nil, apperrors.NotFound("instance")
		}
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to resolve instance", err)
	}
	return inst, nil
}

// Teardown destroys the runtime instance and removes its metadata record.
// Per spec.md §4.2, an already-absent metadata record is not an error.
func (m *Manager) Teardown(ctx context.Context, bearerToken, instanceID, username string) *apperrors.AppError {
	if aerr := m.metadata.DeleteInstance(ctx, bearerToken, instanceID, username); aerr != nil {
		return aerr
	}

	inst, _ := m.adapter.Lookup(ctx, instanceID)
	if inst == nil {
		inst = &orchestrator.Instance{ID: instanceID}
	}
	if err := m.adapter.Destroy(ctx, inst); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to destroy instance", err)
	}

	m.cache.InvalidateInstanceCount(ctx, username)
	m.publisher.InstanceDestroyed(instanceID, username)
	return nil
}

// Rename updates the metadata record's project name.
func (m *Manager) Rename(ctx context.Context, bearerToken, instanceID, username, projectName string) *apperrors.AppError {
	return m.metadata.RenameInstance(ctx, bearerToken, instanceID, username, projectName)
}

// RequestInfo carries the inbound HTTP request fields BuildAccessUrls needs
// to resolve the externally-visible host and scheme, mirroring
// original_source/app/utils/util.py's _build_netloc_and_schemes.
type RequestInfo struct {
	Host            string // request.Host
	XForwardedHost  string
	XForwardedProto string
	URLScheme       string // "http" unless behind TLS termination this process itself terminates
	RemoteHost      string
}

// AccessURLs is the pair of URLs the HTTP layer returns for an instance:
// the WebSocket PTY Broker endpoint and the noVNC display URL.
type AccessURLs struct {
	SessionID string
	WsURL     string
	VncURL    string
}

// BuildAccessUrls produces a fresh suggested session id plus the ws_url and
// vnc_url for instanceID/port, preserving the noVNC query string bit-exactly
// (SPEC_FULL.md "noVNC query-string contract").
func BuildAccessUrls(info RequestInfo, instanceID string, nodePort int, vncPassword string) AccessURLs {
	httpScheme, netloc, hostOnly := buildNetlocAndScheme(info)

	sid := uuid.New().String()
	wsScheme := "ws"
	if httpScheme == "https" {
		wsScheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/ws?cid=%s&sid=%s", wsScheme, netloc, url.QueryEscape(instanceID), sid)
	vncURL := fmt.Sprintf("%s://%s:%d/vnc.html?autoconnect=true&encrypt=0&resize=remote&password=%s",
		httpScheme, hostOnly, nodePort, url.QueryEscape(vncPassword))

	return AccessURLs{SessionID: sid, WsURL: wsURL, VncURL: vncURL}
}

// buildNetlocAndScheme mirrors original_source/terminal/app/main.py's
// netloc/host_only split: ws_url keeps whatever port netloc carries,
// vnc_url always uses the bare host plus the node's noVNC port.
func buildNetlocAndScheme(info RequestInfo) (httpScheme, netloc, hostOnly string) {
	switch {
	case info.XForwardedHost != "":
		netloc = info.XForwardedHost
	case info.Host != "":
		netloc = info.Host
	default:
		netloc = info.RemoteHost
	}

	httpScheme = info.XForwardedProto
	if httpScheme == "" {
		httpScheme = info.URLScheme
	}
	if httpScheme == "" {
		httpScheme = "http"
	}

	hostOnly = netloc
	if h, _, err := splitHostPort(netloc); err == nil {
		hostOnly = h
	}
	if hostOnly == "" {
		hostOnly = info.RemoteHost
	}
	return httpScheme, netloc, hostOnly
}

func splitHostPort(hostport string) (string, string, error) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return hostport, "", fmt.Errorf("no port")
	}
	return hostport[:i], hostport[i+1:], nil
}

func sanitizeName(username string) string {
	var b strings.Builder
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
