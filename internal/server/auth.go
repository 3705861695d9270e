package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/vetclinic/internal/observability/context"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
)

const contextCallerKey = "caller"

// Claims is the bearer token payload. The subject is the user id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 bearer token for caller.
func IssueToken(secret []byte, caller requestctx.Caller, ttl time.Duration) (string, error) {
	if err := caller.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := &Claims{
		TenantID: caller.TenantID,
		Role:     string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 bearer token and returns its caller.
func ParseToken(secret []byte, raw string) (requestctx.Caller, error) {
	if len(secret) == 0 {
		return requestctx.Caller{}, ErrUnauthorized
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return requestctx.Caller{}, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return requestctx.Caller{}, ErrUnauthorized
	}

	role, err := requestctx.ParseRole(claims.Role)
	if err != nil {
		return requestctx.Caller{}, ErrUnauthorized
	}
	caller := requestctx.Caller{
		TenantID: strings.TrimSpace(claims.TenantID),
		UserID:   strings.TrimSpace(claims.Subject),
		Role:     role,
	}
	if err := caller.Validate(); err != nil {
		return requestctx.Caller{}, ErrUnauthorized
	}
	return caller, nil
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		caller, err := ParseToken(s.jwtSecret, raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), caller.TenantID)
		ctx = obscontext.WithActor(ctx, caller.UserID, string(caller.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextCallerKey, caller)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...requestctx.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerFrom(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		for _, role := range roles {
			if caller.Role == role {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}

func callerFrom(c *gin.Context) (requestctx.Caller, bool) {
	value, ok := c.Get(contextCallerKey)
	if !ok {
		return requestctx.Caller{}, false
	}
	caller, ok := value.(requestctx.Caller)
	return caller, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
