package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errTokenMissing = errors.New("token not provided")
	errTokenInvalid = errors.New("invalid token")
)

// tokenExtractionResult holds the result of token extraction
type tokenExtractionResult struct {
	Token                  string
	FromHeader             bool
	HasAccessTokenProtocol bool
}

// resolveClaims prefers claims already set by the bearer guard and falls back to
// validating a handshake token.
func (h *Hub) resolveClaims(c *gin.Context) (*tokenExtractionResult, *auth.CustomClaims, error) {
	if v, ok := c.Get(auth.ClaimsKey); ok {
		if claims, ok := v.(*auth.CustomClaims); ok && claims.Subject != "" {
			logging.GetLogger().Debug("Using claims from bearer guard")
			return &tokenExtractionResult{}, claims, nil
		}
	}

	tokenResult, err := h.extractToken(c)
	if err != nil {
		return nil, nil, err
	}
	claims, err := h.authenticateUser(tokenResult.Token)
	if err != nil {
		return nil, nil, errTokenInvalid
	}
	return tokenResult, claims, nil
}

// extractToken extracts the JWT from the Sec-WebSocket-Protocol header, the
// Authorization header or the token query parameter, in that order.
func (h *Hub) extractToken(c *gin.Context) (*tokenExtractionResult, error) {
	result := &tokenExtractionResult{}

	if headerVal := c.GetHeader("Sec-WebSocket-Protocol"); headerVal != "" {
		for p := range strings.SplitSeq(headerVal, ",") {
			p = strings.TrimSpace(p)
			if p == "access_token" {
				result.HasAccessTokenProtocol = true
				continue
			}
			if p != "" && result.Token == "" {
				if _, err := h.validator.ValidateToken(p); err == nil {
					result.Token = p
					result.FromHeader = true
					logging.GetLogger().Debug("Token extracted from Sec-WebSocket-Protocol header")
				}
			}
		}
	}

	if result.Token == "" {
		if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && bearer != "" {
			result.Token = strings.TrimSpace(bearer)
		}
	}

	if result.Token == "" {
		result.Token = c.Query("token")
	}

	if result.Token == "" {
		logging.Warn(c.Request.Context(), "No token provided in request")
		return nil, errTokenMissing
	}

	return result, nil
}

// validateOrigin checks if the request origin is in the allowed list.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(r.Context(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "Origin not in allowed list", zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// authenticateUser validates the token and extracts claims.
func (h *Hub) authenticateUser(token string) (*auth.CustomClaims, error) {
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		logging.Warn(context.Background(), "Token validation failed",
			zap.String("token", logging.RedactToken(token)), zap.Error(err))
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	logging.GetLogger().Debug("User authenticated", zap.String("userId", claims.Subject))
	return claims, nil
}

var writeBufferPool = &sync.Pool{
	New: func() any {
		return make([]byte, 4096)
	},
}

// upgradeWebSocket handles the WebSocket upgrade process.
func (h *Hub) upgradeWebSocket(c *gin.Context, tokenResult *tokenExtractionResult) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.opts.AllowedOrigins) == nil
		},
		WriteBufferPool: writeBufferPool,
	}

	// Echo the subprotocol the browser offered so the handshake completes.
	responseHeader := http.Header{}
	if tokenResult.FromHeader {
		if tokenResult.HasAccessTokenProtocol {
			responseHeader.Set("Sec-WebSocket-Protocol", "access_token")
		} else {
			responseHeader.Set("Sec-WebSocket-Protocol", tokenResult.Token)
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}

	return conn, nil
}
