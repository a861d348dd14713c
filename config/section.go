package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingOption is returned when a required option is absent.
	ErrMissingOption = errors.New("missing option")
	// ErrInvalidOption is returned when an option cannot be converted.
	ErrInvalidOption = errors.New("invalid option")
)

// Section is the flat option mapping of one configuration section.
type Section map[string]string

// String returns the raw value of key.
func (s Section) String(key string) (string, error) {
	value, ok := s[strings.ToLower(key)]
	if !ok {
		return "", errors.Wrapf(ErrMissingOption, "%q", key)
	}
	return value, nil
}

// Int returns key parsed as a base 10 integer.
func (s Section) Int(key string) (int, error) {
	value, err := s.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidOption, "%q=%q is not an integer", key, value)
	}
	return n, nil
}

// Float returns key parsed as a float64.
func (s Section) Float(key string) (float64, error) {
	value, err := s.String(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidOption, "%q=%q is not a number", key, value)
	}
	return f, nil
}

// Bool returns key parsed with strconv.ParseBool, so "True" and "False" are
// accepted.
func (s Section) Bool(key string) (bool, error) {
	value, err := s.String(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, errors.Wrapf(ErrInvalidOption, "%q=%q is not a boolean", key, value)
	}
	return b, nil
}

// StringOr returns the value of key, or def when it is absent.
func (s Section) StringOr(key, def string) string {
	value, err := s.String(key)
	if err != nil {
		return def
	}
	return value
}

// IntOr returns key as an integer, or def when it is absent. A present but
// malformed value is still an error.
func (s Section) IntOr(key string, def int) (int, error) {
	if _, ok := s[strings.ToLower(key)]; !ok {
		return def, nil
	}
	return s.Int(key)
}

// FloatOr returns key as a float64, or def when it is absent.
func (s Section) FloatOr(key string, def float64) (float64, error) {
	if _, ok := s[strings.ToLower(key)]; !ok {
		return def, nil
	}
	return s.Float(key)
}

// BoolOr returns key as a bool, or def when it is absent.
func (s Section) BoolOr(key string, def bool) (bool, error) {
	if _, ok := s[strings.ToLower(key)]; !ok {
		return def, nil
	}
	return s.Bool(key)
}
