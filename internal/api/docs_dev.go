//go:build !embed_openapi

package api

import (
	"errors"
	"os"
)

// openAPILoad reads the document from disk (dev mode) so edits show without a
// rebuild. OPENAPI_PATH wins; otherwise the repo root and package dir are tried.
func openAPILoad() ([]byte, error) {
	if p := os.Getenv("OPENAPI_PATH"); p != "" {
		return os.ReadFile(p)
	}
	var errs []error
	for _, p := range []string{"internal/api/openapi/openapi.yaml", "openapi/openapi.yaml"} {
		b, err := os.ReadFile(p)
		if err == nil {
			return b, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
