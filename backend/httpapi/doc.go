// Package httpapi speaks the authentication REST API. [Client] implements
// authgate.Backend against a remote server; [Handler] serves any
// authgate.Backend (typically a directory.Service) over the same routes.
//
//	GET  /auth/check-user/{username}      -> {"exists": bool}
//	GET  /auth/password-status/{username} -> {"passwordSet": bool}
//	POST /auth/set-password               <- {"username", "password"}
//	POST /auth/login                      <- {"username", "password"} -> {"token","id","username","role","message"}
//	POST /auth/forgot-password            <- {"username"}
//
// 404 maps to authgate.ErrUserNotFound and 401 to authgate.ErrInvalidCredentials.
package httpapi
