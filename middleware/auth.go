package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/utils"
)

const (
	// ContextUserIDKey is the key used to store the authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextRoleKey stores the authenticated role inside Gin context.
	ContextRoleKey = "role"
)

// AuthRequired ensures the request is authenticated via JWT. Browser
// websocket clients cannot set headers on the upgrade request, so a
// "token" query parameter is accepted as a fallback.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString := bearerToken(ctx)
		if tokenString == "" {
			tokenString = strings.TrimSpace(ctx.Query("token"))
		}
		if tokenString == "" {
			utils.Error(ctx, utils.CodeUnauthorized+1, "authorization missing")
			ctx.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Error(ctx, utils.CodeUnauthorized+2, "invalid token")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Set(ContextRoleKey, claims.Role)
		ctx.Next()
	}
}

func bearerToken(ctx *gin.Context) string {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ActorRole returns the role stored by AuthRequired, defaulting to student.
func ActorRole(ctx *gin.Context) models.Role {
	if v, ok := ctx.Get(ContextRoleKey); ok {
		if role, ok := v.(models.Role); ok {
			return role
		}
	}
	return models.RoleStudent
}
