package agentgate

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lianghu1024/agentgate/internal/auth"
	"github.com/lianghu1024/agentgate/internal/metrics"
	"github.com/lianghu1024/agentgate/protocol"
)

// ActionAuth is the reserved action name for the authentication exchange.
const ActionAuth = "AUTH"

// minTokenLen is the fixed schema floor for AUTH token strings.
const minTokenLen = 10

// expiredRetryHintMs is the retryAfterMs hint on TOKEN_EXPIRED: long
// enough for the caller to obtain a fresh credential.
const expiredRetryHintMs = 30_000

// authStage gates everything behind a session. The per-connection state
// machine is one-way: UNAUTHENTICATED -> AUTHENTICATED; a client wanting
// fresh auth reconnects.
type authStage struct {
	authenticator auth.Authenticator
	sessions      *sessionStore
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func (s *authStage) Name() string { return "auth" }

func (s *authStage) Handle(mc *MsgContext) (bool, error) {
	if mc.Req.Action == ActionAuth {
		s.handleAuth(mc)
		// AUTH never reaches the command router.
		return false, nil
	}

	sess := mc.Conn.Session()
	if sess != nil && !s.sessions.has(sess.ID) {
		// The idle sweeper reaped this session out from under the
		// connection; the client must re-authenticate on a new one.
		mc.Conn.setSession(nil)
		sess = nil
	}
	if sess == nil {
		// Each unauthenticated request is independently rejected; no
		// connection-level lockout.
		_ = mc.Fail(protocol.Unauthorized())
		return false, nil
	}

	sess.Touch(s.now())
	mc.Session = sess
	return true, nil
}

type authPayload struct {
	Token string `json:"token"`
}

type authResult struct {
	SessionID string   `json:"sessionId"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *int64   `json:"expiresAt"`
}

func (s *authStage) handleAuth(mc *MsgContext) {
	var payload authPayload
	if err := json.Unmarshal(mc.Req.Data, &payload); err != nil || len(payload.Token) < minTokenLen {
		s.metrics.AuthAttempt("bad_request")
		_ = mc.Fail(protocol.BadRequest("token must be a string of at least 10 characters"))
		return
	}

	if mc.Conn.Session() != nil {
		s.metrics.AuthAttempt("bad_request")
		_ = mc.Fail(protocol.BadRequest("connection is already authenticated"))
		return
	}

	grant, err := s.authenticator.Validate(mc.Ctx, payload.Token)
	if err != nil {
		if f, ok := auth.AsFailure(err); ok {
			s.metrics.AuthAttempt(string(f.Reason))
			s.logger.Warn("auth rejected", "conn", mc.Conn.ID(), "reason", f.Reason)
			switch f.Reason {
			case auth.ReasonExpired:
				_ = mc.Fail(protocol.TokenExpired(expiredRetryHintMs))
			default:
				_ = mc.Fail(protocol.InvalidToken())
			}
			return
		}
		// Backend trouble is indistinguishable from bad credentials on
		// the wire code; the log keeps the distinction.
		s.metrics.AuthAttempt("backend_error")
		s.logger.Error("auth backend failure", "conn", mc.Conn.ID(), "error", err)
		_ = mc.Fail(protocol.InternalError("internal error"))
		return
	}

	sess := s.sessions.create(grant.Identity, grant.Scopes, grant.ExpiresAt, mc.Conn.ID(), s.now())
	mc.Conn.setSession(sess)
	s.metrics.AuthAttempt("ok")
	s.metrics.SessionCreated()
	s.logger.Info("session created",
		"conn", mc.Conn.ID(), "session", sess.ID, "identity", sess.Identity)

	result := authResult{SessionID: sess.ID, Scopes: sess.Scopes}
	if !sess.ExpiresAt.IsZero() {
		ms := sess.ExpiresAt.UnixMilli()
		result.ExpiresAt = &ms
	}
	env, err := protocol.NewResponse(mc.Req.ID, mc.Req.Action, result, mc.StartedAt)
	if err != nil {
		_ = mc.Fail(protocol.InternalError("internal error"))
		return
	}
	_ = mc.Reply(env)
}
