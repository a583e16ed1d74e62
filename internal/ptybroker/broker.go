// Package ptybroker implements the PTY Broker (spec.md §4.7): the
// WebSocket endpoint that binds a client's browser terminal to an
// interactive PTY attached inside an instance, grounded on the teacher's
// websocket.Manager upgrade-and-pump style (internal/websocket/handlers.go,
// hub.go) and on original_source/app/main.py's websocket_terminal.
package ptybroker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
	"github.com/jaewoo-rain/webide-broker/internal/events"
	"github.com/jaewoo-rain/webide-broker/internal/logger"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/sessions"
)

// readBufferSize matches the original implementation's per-read chunk size
// for the PTY -> client egress pump.
const readBufferSize = 1024

// closeSessionConflict is the WebSocket close code used when a
// client-supplied sid is already claimed (SPEC_FULL.md Open Question 3).
const closeSessionConflict = 4409

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broker owns the session table and the shell command used to attach an
// interactive PTY inside an instance.
type Broker struct {
	adapter   orchestrator.Adapter
	registry  *sessions.Registry
	publisher *events.Publisher
	shell     []string
	venvPath  string
}

// New constructs a Broker. shell is the argv used to attach an interactive
// process (e.g. []string{"/bin/bash"}); venvPath is the per-instance
// language runtime scaffold ensured before every attach (spec.md §4.7 step
// 5, grounded on original_source/terminal/app/main.py's ensure_venv).
func New(adapter orchestrator.Adapter, registry *sessions.Registry, publisher *events.Publisher, shell []string, venvPath string) *Broker {
	return &Broker{adapter: adapter, registry: registry, publisher: publisher, shell: shell, venvPath: venvPath}
}

// Resolver resolves a client-supplied instance id/prefix to a live
// orchestrator instance, satisfied by instances.Manager.Resolve.
type Resolver func(ctx context.Context, idOrPrefix string) (*orchestrator.Instance, *apperrors.AppError)

// Handle upgrades the connection and runs the full per-connection protocol
// (spec.md §4.7): parse cid/sid, resolve the instance, claim or reject the
// session id, attach a PTY, and pump bytes in both directions until either
// side disconnects.
func (b *Broker) Handle(c *gin.Context, resolve Resolver) {
	log := logger.Broker()

	cid := c.Query("cid")
	clientSid := c.Query("sid")
	if cid == "" {
		c.JSON(http.StatusBadRequest, apperrors.Invalid("cid query parameter is required").ToResponse())
		return
	}

	instance, aerr := resolve(c.Request.Context(), cid)
	if aerr != nil {
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	sid := clientSid
	if sid == "" {
		sid = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if clientSid != "" && b.registry.Exists(sid) {
		// A pre-claimed sid never gets a PTY attached: the channel closes
		// with closeSessionConflict before any data frame is sent.
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeSessionConflict, "session id already claimed"))
		return
	}

	if _, err := b.adapter.Exec(context.Background(), instance, []string{"bash", "-c", b.ensureVenvScript()}, orchestrator.ExecOptions{}); err != nil {
		log.Warn().Err(err).Str("instance_id", instance.ID).Msg("failed to ensure language runtime scaffold")
	}

	pty, err := b.adapter.Attach(context.Background(), instance, b.activateArgv())
	if err != nil {
		log.Warn().Err(err).Str("instance_id", instance.ID).Msg("failed to attach pty")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "attach failed"))
		return
	}

	if aerr := b.registry.Insert(sid, instance.ID, pty); aerr != nil {
		_ = pty.Close()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeSessionConflict, "session id already claimed"))
		return
	}
	defer b.registry.Remove(sid)
	defer pty.Close()

	if err := conn.WriteJSON(map[string]string{"sid": sid}); err != nil {
		log.Warn().Err(err).Msg("failed to send sid control frame")
		return
	}

	// Wake the shell prompt, mirroring the original implementation's
	// forced newline immediately after attach.
	_, _ = pty.Write([]byte("\n"))

	b.publisher.SessionAttached(instance.ID, sid)
	defer b.publisher.SessionDetached(instance.ID, sid)

	done := make(chan struct{})
	go b.egressPump(conn, pty, done)
	b.ingressPump(conn, pty)
	<-done
}

// ensureVenvScript builds the idempotent venv-creation script run as a
// short Exec before every attach (spec.md §4.7 step 5), grounded
// bit-exactly on original_source/terminal/app/main.py's ensure_venv.
func (b *Broker) ensureVenvScript() string {
	return fmt.Sprintf(`set -e
if [ ! -x '%s/bin/python' ]; then
    python3 -m venv '%s'
    '%s/bin/python' -m pip install --upgrade pip
fi`, b.venvPath, b.venvPath, b.venvPath)
}

// activateArgv is the interactive shell attached after the scaffold is
// ensured: the runtime activated and a recognizable prompt (spec.md §4.7
// step 6), grounded on the same ensure_venv call site's exec_create argv.
func (b *Broker) activateArgv() []string {
	return []string{"bash", "-lc", fmt.Sprintf(
		"source %s/bin/activate >/dev/null 2>&1 || true; export PS1='webide:\\w$ '; exec %s",
		b.venvPath, strings.Join(b.shell, " "))}
}

// egressPump reads PTY output and forwards it to the client as text frames.
func (b *Broker) egressPump(conn *websocket.Conn, pty orchestrator.PTY, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := pty.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.TextMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// ingressPump reads client frames and writes them to the PTY's stdin.
func (b *Broker) ingressPump(conn *websocket.Conn, pty orchestrator.PTY) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := pty.Write(msg); err != nil {
			return
		}
	}
}
