package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

var analysisIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ParsePagination reads page and limit query values. Empty values take the
// defaults; anything else must be an integer in range.
func ParsePagination(rawPage, rawLimit string) (page, limit int, err error) {
	page, limit = DefaultPage, DefaultLimit
	if rawPage != "" {
		if page, err = strconv.Atoi(rawPage); err != nil {
			return 0, 0, errors.New("El parámetro page debe ser un número")
		}
		if page < 1 {
			return 0, 0, errors.New("El parámetro page debe ser mayor a 0")
		}
	}
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil {
			return 0, 0, errors.New("El parámetro limit debe ser un número")
		}
		if limit < 1 || limit > MaxLimit {
			return 0, 0, fmt.Errorf("El parámetro limit debe estar entre 1 y %d", MaxLimit)
		}
	}
	return page, limit, nil
}

// ParseHasPest reads the optional hasPest filter. Empty means no filter.
func ParseHasPest(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New("El parámetro hasPest debe ser true o false")
	}
	return &v, nil
}

// ValidateAnalysisID accepts Firestore auto-ids and UUIDs.
func ValidateAnalysisID(id string) error {
	if !analysisIDPattern.MatchString(id) {
		return errors.New("ID de análisis inválido")
	}
	return nil
}

// SanitizeString drops NUL and control characters except tab and newline,
// then trims and caps the result at max runes (0 means no cap).
func SanitizeString(input string, max int) string {
	var b strings.Builder
	n := 0
	for _, r := range input {
		if r < 32 && r != '\t' && r != '\n' {
			continue
		}
		if r == 0x7f {
			continue
		}
		if max > 0 && n >= max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
