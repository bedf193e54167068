package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// SessionHeader carries the shopper's session id in both directions.
const SessionHeader = "X-Session-ID"

const sessionLocalsKey = "session_id"

// Visitor resolves the session id for each request. A client-supplied
// X-Session-ID wins; otherwise the id is derived from the client's IP,
// user agent and language so an anonymous shopper keeps the same cart.
// The resolved id is echoed in the response header.
func Visitor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// The id outlives the request as a session key, so it must not alias the request buffer.
		id := utils.CopyString(strings.TrimSpace(c.Get(SessionHeader)))
		if id == "" || len(id) > 128 {
			id = Fingerprint(c.IP(), c.Get(fiber.HeaderUserAgent), c.Get(fiber.HeaderAcceptLanguage))
		}
		c.Locals(sessionLocalsKey, id)
		c.Set(SessionHeader, id)
		return c.Next()
	}
}

// Fingerprint hashes the request traits that identify an anonymous visitor.
func Fingerprint(ip, userAgent, language string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent + "|" + language))
	return hex.EncodeToString(sum[:])[:32]
}

// SessionID returns the id stored by Visitor, or "" outside it.
func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(sessionLocalsKey).(string)
	return id
}
