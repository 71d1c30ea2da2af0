package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass bearer authentication. /ws authenticates through its
// token query parameter instead.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/ws":        true,
}

// AuthSkipper matches on the route path, so it must run after routing.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path()) || IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
