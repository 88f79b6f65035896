package middleware

import (
	"net/http"
	"strings"
	"sync"

	"batterycounter/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// DeviceIDKey is the context key for the authenticated device ID
const DeviceIDKey = "device_id"

// bcryptPrefixes identify stored token hashes
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

func isBcryptHash(token string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(token, p) {
			return true
		}
	}
	return false
}

// tokenVerifier maps presented bearer tokens to device IDs
type tokenVerifier struct {
	plain  map[string]string
	hashed []config.DeviceToken

	mu       sync.RWMutex
	verified map[string]string
}

func newTokenVerifier(tokens []config.DeviceToken) *tokenVerifier {
	v := &tokenVerifier{
		plain:    make(map[string]string),
		verified: make(map[string]string),
	}
	for _, t := range tokens {
		if isBcryptHash(t.Token) {
			v.hashed = append(v.hashed, t)
			continue
		}
		v.plain[t.Token] = t.DeviceID
	}
	return v
}

func (v *tokenVerifier) lookup(token string) (string, bool) {
	if deviceID, ok := v.plain[token]; ok {
		return deviceID, true
	}

	v.mu.RLock()
	deviceID, ok := v.verified[token]
	v.mu.RUnlock()
	if ok {
		return deviceID, true
	}

	// bcrypt is slow; remember tokens once they have matched
	for _, t := range v.hashed {
		if bcrypt.CompareHashAndPassword([]byte(t.Token), []byte(token)) == nil {
			v.mu.Lock()
			v.verified[token] = t.DeviceID
			v.mu.Unlock()
			return t.DeviceID, true
		}
	}
	return "", false
}

// DeviceAuth validates device tokens from the Authorization Bearer header.
// On success, sets the device ID in context for handler use.
func DeviceAuth(tokens []config.DeviceToken) gin.HandlerFunc {
	verifier := newTokenVerifier(tokens)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
				"code":  "AUTH_REQUIRED",
			})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization scheme. Use Bearer token.",
				"code":  "INVALID_AUTH_SCHEME",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Token required",
				"code":  "TOKEN_REQUIRED",
			})
			return
		}

		deviceID, found := verifier.lookup(token)
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
				"code":  "INVALID_TOKEN",
			})
			return
		}

		c.Set(DeviceIDKey, deviceID)
		c.Next()
	}
}
