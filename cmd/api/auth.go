package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/models"
)

type ctxKey int

const actorKey ctxKey = 0

// Claims are the identity token fields the API trusts.
type Claims struct {
	MemberID string      `json:"member_id"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 identity token. Used by operators and tests.
func IssueToken(secret []byte, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		MemberID: actor.MemberID.String(),
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, raw string) (models.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return models.Actor{}, err
	}
	id, err := uuid.Parse(claims.MemberID)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid member_id claim: %w", err)
	}
	switch claims.Role {
	case models.RoleMember, models.RoleTreasurer, models.RoleChairman, models.RoleCompliance:
	default:
		return models.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return models.Actor{MemberID: id, Role: claims.Role}, nil
}

func extractBearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("malformed Authorization header")
	}
	return strings.TrimSpace(token), nil
}

// authMiddleware resolves the caller from the bearer token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		actor, err := parseToken(s.secret, raw)
		if err != nil {
			s.logger.WithField("path", r.URL.Path).Warnf("Rejected token: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(r *http.Request) models.Actor {
	a, _ := r.Context().Value(actorKey).(models.Actor)
	return a
}
