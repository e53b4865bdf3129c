package utils

import (
	"os"
	"strings"
)

// IsProd returns true if the daemon is running in production
func IsProd() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "production" || env == "prod"
}

// IsDev returns true if the daemon is running in development. An unset
// ENVIRONMENT counts as development.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "development" || env == "dev" || env == ""
}
