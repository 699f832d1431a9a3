package validators

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
)

const maxPathIDLength = 128

// PathID returns a required, trimmed chi URL parameter.
func PathID(r *http.Request, name string) (string, error) {
	value := SanitizeString(chi.URLParam(r, name), 0)
	if value == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, name+" is required").WithDetails(map[string]any{"field": name})
	}
	if len(value) > maxPathIDLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, name+" is too long").WithDetails(map[string]any{"field": name, "max": maxPathIDLength})
	}
	return value, nil
}
