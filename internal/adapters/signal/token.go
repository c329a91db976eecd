package signal

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// SessionTokenKey is where /api/session keeps the credential.
const SessionTokenKey = "token"

// TokenFromRequest picks the handshake credential: the token query
// parameter, then an Authorization bearer header, then the cookie session.
func TokenFromRequest(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if t := BearerToken(c.GetHeader("Authorization")); t != "" {
		return t
	}
	if s := sessionOf(c); s != nil {
		if t, ok := s.Get(SessionTokenKey).(string); ok {
			return t
		}
	}
	return ""
}

func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// sessionOf tolerates routers mounted without the sessions middleware.
func sessionOf(c *gin.Context) sessions.Session {
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return nil
	}
	return sessions.Default(c)
}
