package util

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// ApplyConversion applies a converter function to each of the models
// provided to this function. The returned value is a slice which
// has been converted to the new values based on the returned value
// from the converter.
func ApplyConversion[T any, K any](models []T, converter func(T) K) []K {
	dtos := make([]K, 0, len(models))
	for _, v := range models {
		dtos = append(dtos, converter(v))
	}

	return dtos
}

// RequesterAddress derives the address that history entries are scoped by.
// When the server sits behind a proxy the first entry of X-Forwarded-For
// identifies the real requester; otherwise the transport-level peer
// address is used.
func RequesterAddress(ec echo.Context) string {
	if forwarded := ec.Request().Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	addr := ec.Request().RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}

	return addr
}
