package ui

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	csrfCookie = "ecombot_csrf"
	csrfField  = "csrf_token"
	csrfHeader = "X-CSRF-Token"
)

// csrfMiddleware enforces double-submit protection: the form field (or header)
// must match the cookie set when the page was rendered.
func csrfMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) {
			c.Next()
			return
		}
		sent := c.PostForm(csrfField)
		if sent == "" {
			sent = c.GetHeader(csrfHeader)
		}
		cookieToken, err := c.Cookie(csrfCookie)
		if err != nil || sent == "" || cookieToken == "" || sent != cookieToken {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// csrfToken returns the visitor's token, minting and setting one if needed.
func csrfToken(c *gin.Context) (string, error) {
	if token, err := c.Cookie(csrfCookie); err == nil && len(token) == 64 {
		return token, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(csrfCookie, token, cookieMaxAge, "/", "", false, true)
	return token, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
