// Package authhttp exposes token issuance and the bearer middleware.
package authhttp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	domainauth "chartlens-server-go/internal/domain/auth"
	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/logging"
	httptransport "chartlens-server-go/internal/transport/http"
)

// ContextClientID is the gin context key holding the authenticated client id.
const ContextClientID = "client_id"

// TokenRequest asks for a client token. ServerToken may also be sent as a
// bearer header.
type TokenRequest struct {
	ClientID    string `json:"client_id"`
	ServerToken string `json:"server_token,omitempty"`
}

// TokenResponse is returned by POST /api/auth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ClientID  string    `json:"client_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service is the HTTP face of domainauth.AuthToken.
type Service struct {
	token  *domainauth.AuthToken
	logger *logging.Logger
}

// NewService wires the token helper.
func NewService(token *domainauth.AuthToken, logger *logging.Logger) (*Service, error) {
	if token == nil {
		return nil, errors.New(errors.KindConfig, "authhttp.new", "auth token is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{token: token, logger: logger}, nil
}

// Register mounts the token endpoint on the public API group.
func (s *Service) Register(_ context.Context, router *gin.RouterGroup) error {
	router.POST("/auth/token", s.handleIssue)
	return nil
}

// handleIssue issues a client token.
// @Summary Issue an API token
// @Description Exchanges the shared server token for a client scoped JWT
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "client id and server token"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} object
// @Failure 401 {object} object
// @Router /auth/token [post]
func (s *Service) handleIssue(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	presented := req.ServerToken
	if presented == "" {
		presented = bearer(c.GetHeader("Authorization"))
	}
	if err := s.token.CheckServerToken(presented); err != nil {
		s.logger.WarnTag("AUTH", "rejected token request for client %q", req.ClientID)
		httptransport.RespondError(c, http.StatusUnauthorized, err.Error(), nil)
		return
	}

	token, expiresAt, err := s.token.GenerateToken(req.ClientID)
	if err != nil {
		httptransport.RespondErr(c, err, "", nil)
		return
	}

	clientID := strings.TrimSpace(req.ClientID)
	s.logger.InfoTag("AUTH", "issued token for client %s", clientID)
	httptransport.RespondSuccess(c, http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ClientID:  clientID,
		ExpiresAt: expiresAt,
	}, "token issued")
}

// Middleware rejects requests without a valid bearer token. Browsers cannot
// set headers on websocket upgrades, so ?access_token= is accepted as well.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			httptransport.RespondError(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}

		clientID, err := s.token.VerifyToken(raw)
		if err != nil {
			s.logger.DebugTag("AUTH", "token verification failed: %v", err)
			httptransport.RespondError(c, http.StatusUnauthorized, "invalid or expired token", nil)
			c.Abort()
			return
		}

		c.Set(ContextClientID, clientID)
		c.Next()
	}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
