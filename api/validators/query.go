package validators

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/orderpay-backend/pkg/errors"
)

// ParseQueryInt reads an integer query parameter, applying the fallback when
// absent and rejecting values outside [min, max].
func ParseQueryInt(r *http.Request, name string, fallback, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidRequest, fmt.Sprintf("%s must be an integer", name))
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidRequest,
			fmt.Sprintf("%s must be between %d and %d", name, min, max))
	}
	return value, nil
}
