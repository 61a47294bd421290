package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper is the JWTConfig.Skipper used by the server.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
