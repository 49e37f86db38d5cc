package auth

import "github.com/labstack/echo/v4"

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper reports whether the request's route is public.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is served without an actor token.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
