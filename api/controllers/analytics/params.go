package analytics

import (
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-backend/api/validators"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

var timeNowUTC = func() time.Time {
	return time.Now().UTC()
}

// resolveRange reads from/to, or a 7d/30d/90d preset ending now. With neither
// the range is open.
func resolveRange(r *http.Request, now time.Time) (*time.Time, *time.Time, error) {
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return nil, nil, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return nil, nil, err
	}
	if from != nil || to != nil {
		if from != nil && to != nil && to.Before(*from) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from")
		}
		return from, to, nil
	}

	preset := strings.TrimSpace(r.URL.Query().Get("preset"))
	if preset == "" {
		return nil, nil, nil
	}
	duration, ok := presetDuration(preset)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid preset")
	}
	start := now.Add(-duration)
	return &start, &now, nil
}

func presetDuration(value string) (time.Duration, bool) {
	switch strings.ToLower(value) {
	case "7d":
		return 7 * 24 * time.Hour, true
	case "30d":
		return 30 * 24 * time.Hour, true
	case "90d":
		return 90 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
