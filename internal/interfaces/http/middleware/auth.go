package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/LexNER/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

// ContextKeyClaims is the gin key holding *keycloak.TokenClaims.
const ContextKeyClaims = "auth_claims"

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	Verifier keycloak.Verifier
	Enforcer *keycloak.Enforcer
	// Permissions maps "METHOD /route/pattern" to the permission it needs.
	// Routes not listed only require a valid token.
	Permissions map[string]keycloak.Permission
}

// Auth verifies the bearer token, stores the claims in the gin and request
// contexts and enforces the route's permission.
func Auth(cfg AuthConfig, logger logging.Logger) gin.HandlerFunc {
	enforcer := cfg.Enforcer
	if enforcer == nil {
		enforcer = keycloak.NewEnforcer(nil)
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortAuth(c, logger, keycloak.ErrMissingToken)
			return
		}
		claims, err := cfg.Verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			abortAuth(c, logger, err)
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Request = c.Request.WithContext(keycloak.WithClaims(c.Request.Context(), claims))

		if perm, ok := cfg.Permissions[c.Request.Method+" "+c.FullPath()]; ok && !enforcer.HasPermission(claims, perm) {
			abortAuth(c, logger, errors.New(errors.ErrCodeForbidden, "access denied").WithDetail(string(perm)))
			return
		}
		c.Next()
	}
}

// GetClaims returns the claims stored by Auth.
func GetClaims(c *gin.Context) (*keycloak.TokenClaims, bool) {
	v, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*keycloak.TokenClaims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abortAuth(c *gin.Context, logger logging.Logger, err error) {
	code := errors.GetCode(err)
	var status int
	switch code {
	case errors.ErrCodeForbidden:
		status = http.StatusForbidden
	case errors.ErrCodeServiceUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status, code = http.StatusUnauthorized, errors.ErrCodeUnauthorized
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	logger.Warn("request not authorized",
		logging.String("path", c.Request.URL.Path),
		logging.String("request_id", GetRequestID(c)),
		logging.Int("status", status),
		logging.Err(err))

	message := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	resp := common.NewErrorResponse(code.String(), message)
	resp.RequestID = GetRequestID(c)
	c.AbortWithStatusJSON(status, resp)
}
