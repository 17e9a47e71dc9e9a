package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"atelier/config"
	"atelier/util"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// Key for user ID in context
const UserIDKey contextKey = "user_id"
const TokenClaimsKey contextKey = "token_claims"

// AnonymousUser is the user ID assigned when authentication is disabled
const AnonymousUser = "anonymous"

var (
	validator     keyfunc.Keyfunc
	validatorOnce sync.Once
)

// NewValidator builds a JWKS-backed key function for JWT validation
func NewValidator(ctx context.Context, jwksURI string) keyfunc.Keyfunc {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI}) // ctx ends the refresh goroutine
	if err != nil {
		util.LogInfo("Failed to create a keyfunc.Keyfunc from the JWKS URI", logrus.Fields{"error": err})
		logrus.Fatal("Failed to create a keyfunc.Keyfunc from the JWKS URI")
	}
	return k
}

func getValidator(ctx context.Context, jwksURI string) keyfunc.Keyfunc {
	validatorOnce.Do(func() {
		validator = NewValidator(ctx, jwksURI)
	})
	return validator
}

// WithAuth authenticates requests. Static API tokens are checked first; when
// a JWKS URI is configured, bearer JWTs are validated against it. With auth
// disabled every request maps to the anonymous user.
func WithAuth(c *fiber.Ctx) error {
	conf := config.GetConfig(nil)

	if !conf.Auth.Enabled {
		return authorize(c, AnonymousUser, nil)
	}

	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	for _, t := range conf.Auth.APITokens {
		if t != "" && tokenStr == t {
			// token identity: stable ID derived from the token itself
			return authorize(c, "token-"+uuid.NewSHA1(uuid.NameSpaceOID, []byte(t)).String(), nil)
		}
	}

	if conf.Auth.JWKSUri == "" {
		util.LogWarning("Rejected request with unknown API token")
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	k := getValidator(c.UserContext(), conf.Auth.JWKSUri)
	token, err := jwt.Parse(tokenStr, k.Keyfunc)
	if err != nil {
		util.LogWarning("Failed to parse token", logrus.Fields{"error": err})
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	if !token.Valid {
		util.LogWarning("Invalid token")
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	claims := token.Claims.(jwt.MapClaims)
	userID, ok := claims["sub"].(string)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	return authorize(c, userID, claims)
}

func authorize(c *fiber.Ctx, userID string, claims jwt.MapClaims) error {
	ctx := context.WithValue(c.UserContext(), UserIDKey, userID)
	if claims != nil {
		ctx = context.WithValue(ctx, TokenClaimsKey, claims)
		c.Locals(TokenClaimsKey, claims)
	}

	c.SetUserContext(ctx)
	c.Locals(UserIDKey, userID)
	c.Set("X-User-ID", userID)

	rid := uuid.New().String()
	c.Set("X-Request-ID", rid)
	c.Locals("request_id", rid)

	util.LogDebug("Request authorized", logrus.Fields{
		string(UserIDKey): userID,
	})
	return c.Next()
}

// UserID extracts the authenticated user from the request context
func UserID(c *fiber.Ctx) string {
	if id, ok := c.UserContext().Value(UserIDKey).(string); ok {
		return id
	}
	return AnonymousUser
}

// CanAccess reports whether the authenticated user may read a record owned
// by targetUserID
func CanAccess(c *fiber.Ctx, targetUserID string) bool {
	return UserID(c) == targetUserID
}
