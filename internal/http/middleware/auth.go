package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"globlept.co.uk/app/internal/shared/apperr"
	"globlept.co.uk/app/internal/shared/authz"
)

const CtxKeyActor = "actor"

// Claims is the bearer token issued by the identity service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier parses bearer tokens signed with a shared HS256 secret.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Actor verifies raw and returns the identity it carries.
func (v *TokenVerifier) Actor(raw string) (authz.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return authz.Actor{}, err
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return authz.Actor{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	role, ok := authz.ParseRole(claims.Role)
	if !ok {
		return authz.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return authz.Actor{ID: id, Role: role}, nil
}

// Identity resolves the bearer token into an actor. Requests without a token
// pass through anonymous; a present but invalid token is rejected.
func Identity(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			Fail(c, apperr.UnauthorizedErr("Malformed Authorization header."))
			return
		}

		actor, err := v.Actor(strings.TrimSpace(raw))
		if err != nil {
			msg := "Invalid access token."
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Access token expired."
			}
			Fail(c, &apperr.AppError{Kind: apperr.Unauthorized, PublicMsg: msg, Err: err})
			return
		}

		c.Set(CtxKeyActor, actor)
		c.Request = c.Request.WithContext(authz.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// CurrentActor returns the authenticated actor, or the zero actor.
func CurrentActor(c *gin.Context) (authz.Actor, bool) {
	if v, ok := c.Get(CtxKeyActor); ok {
		if a, ok := v.(authz.Actor); ok {
			return a, true
		}
	}
	return authz.Actor{}, false
}

// RequireRole rejects the request at the edge. Services check again.
func RequireRole(roles ...authz.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		if !actor.Is(roles...) {
			Fail(c, apperr.ForbiddenErr("You do not have access to this resource."))
			return
		}
		c.Next()
	}
}
