package middleware

import (
	"strings"

	"algoforge/internal/user/service"
	pkgerrors "algoforge/pkg/errors"
	"algoforge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware enforces JWT validation and optional role checks for protected routes.
func AuthMiddleware(authService *service.AuthService, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		info, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		if len(roles) > 0 && !hasRole(string(info.Role), roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}

		c.Set("user_id", info.ID)
		c.Set("user_role", string(info.Role))
		c.Next()
	}
}

// OptionalAuthMiddleware attaches identity when a valid token is present but
// never rejects the request.
func OptionalAuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			c.Next()
			return
		}
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		info, err := authService.Authenticate(c.Request.Context(), token)
		if err == nil {
			c.Set("user_id", info.ID)
			c.Set("user_role", string(info.Role))
		}
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
