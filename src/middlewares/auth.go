package middlewares

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"nftdiarias/src/lib/chain"
	"nftdiarias/src/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AUTH_MODE_SIGNATURE = "signature"
	AUTH_MODE_HEADER    = "header"

	WalletHeader = "x-wallet-address"
	WalletKey    = "wallet"
)

// WalletAuth sets the caller's lowercase wallet under WalletKey. In header
// mode the address is taken on trust from x-wallet-address.
func WalletAuth(secret []byte, mode string) gin.HandlerFunc {
	if mode == AUTH_MODE_HEADER {
		return func(ctx *gin.Context) {
			wallet, err := chain.NormalizeAddress(ctx.GetHeader(WalletHeader))
			if err != nil {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed x-wallet-address header"})
				return
			}
			ctx.Set(WalletKey, wallet)
		}
	}
	return func(ctx *gin.Context) {
		bearerToken := ctx.Request.Header.Get("Authorization")
		reqToken, ok := strings.CutPrefix(bearerToken, "Bearer ")
		if !ok || strings.TrimSpace(reqToken) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		wallet, err := ParseWalletToken(secret, strings.TrimSpace(reqToken))
		if err != nil {
			log.Printf("token error: %s\n", err.Error())
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx.Set(WalletKey, wallet)
	}
}

// ParseWalletToken validates an HS256 token and returns its lowercase subject.
func ParseWalletToken(secret []byte, token string) (string, error) {
	claims := &types.WalletClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !tkn.Valid {
		return "", errors.New("token is not valid")
	}
	wallet, err := chain.NormalizeAddress(claims.Subject)
	if err != nil {
		return "", err
	}
	return wallet, nil
}

func SecureHeaders(ctx *gin.Context) {
	ctx.Header("X-Frame-Options", "DENY")
	ctx.Header("X-Content-Type-Options", "nosniff")
	ctx.Header("Referrer-Policy", "strict-origin")
	ctx.Header("X-XSS-Protection", "1; mode=block")
	ctx.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	ctx.Next()
}

func MaintenanceMode(enabled bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if enabled {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is under maintenance"})
			return
		}
		ctx.Next()
	}
}
