package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

var errInvalidBody = domain.NewDomainError(domain.ErrCodeValidation, "invalid request body")

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Wrap(domain.ErrPayloadTooLarge, err)
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func queryInt(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, fmt.Sprintf("%s must be an integer", key))
	}
	return n, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, domain.NewDomainError(domain.ErrCodeValidation, fmt.Sprintf("invalid date %q", raw))
}

func queryDate(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// csv splits comma separated and repeated query values.
func csv(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseSourceTypes(values []string) ([]domain.SourceType, error) {
	var out []domain.SourceType
	var errs []error
	for _, v := range values {
		st, err := domain.ParseSourceType(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, st)
	}
	return out, errors.Join(errs...)
}
