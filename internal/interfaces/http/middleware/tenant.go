package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storesync/backend/internal/infrastructure/logger"
	"github.com/storesync/backend/internal/interfaces/http/dto"
)

// Tenant context keys
const (
	TenantIDKey  = "tenant_id"
	TenantHeader = "X-Tenant-ID"
)

// Claims are the bearer token claims the API reads
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// TenantConfig configures tenant resolution. With a JWTSecret the tenant
// comes from the tenant_id claim of an HS256 bearer token; without one it
// comes from the X-Tenant-ID header.
type TenantConfig struct {
	JWTSecret string
	Issuer    string
	Logger    *zap.Logger
}

var errMissingTenant = errors.New("tenant not found in request")

// Tenant resolves the calling tenant and stores it in the gin and request contexts
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		var (
			raw string
			err error
		)
		if cfg.JWTSecret != "" {
			raw, err = tenantFromToken(c, parser, cfg.JWTSecret)
		} else {
			raw = c.GetHeader(TenantHeader)
			if raw == "" {
				err = errMissingTenant
			}
		}
		if err != nil {
			log.Debug("Tenant resolution failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			abortWithError(c, dto.ErrCodeUnauthorized, "Missing or invalid tenant credentials")
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			abortWithError(c, dto.ErrCodeUnauthorized, "Invalid tenant ID format")
			return
		}

		c.Set(TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), tenantID.String()))
		c.Next()
	}
}

func tenantFromToken(c *gin.Context, parser *jwt.Parser, secret string) (string, error) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errMissingTenant
	}
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return "", err
	}
	if claims.TenantID == "" {
		return "", errMissingTenant
	}
	return claims.TenantID, nil
}

// GetTenantUUID returns the tenant resolved by Tenant
func GetTenantUUID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(TenantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
