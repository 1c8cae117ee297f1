package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

const identityKey = "identity"

// Claims carried by access tokens. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for the user.
func SignToken(secret []byte, userID string, role orders.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's identity on the context.
func Authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			abortUnauthorized(c, "invalid token")
			return
		}

		role := orders.RoleUser
		if orders.Role(claims.Role) == orders.RoleAdmin {
			role = orders.RoleAdmin
		}
		c.Set(identityKey, orders.Identity{UserID: claims.Subject, Role: role})
		c.Set("user_id", claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Success: false, Message: message})
}

func identity(c *gin.Context) orders.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return orders.Identity{}
	}
	id, _ := v.(orders.Identity)
	return id
}
