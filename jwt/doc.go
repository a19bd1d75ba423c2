// Package jwt issues and verifies the session tokens handed out by the reference
// credential directory. [Manager.Verify] satisfies authgate.TokenVerifier, so a
// restored session whose token expired is discarded on startup.
package jwt
