package artifact

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"giftforge/internal/apperrors"
)

// ValidateName checks that name is a plain file name that cannot leave the directory
// it is joined to.
func ValidateName(field, name string) error {
	if name == "" {
		return apperrors.Validation(field, field+" is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return apperrors.Validation(field, fmt.Sprintf("%s must be a file name, got %q", field, name))
	}
	return nil
}

// ValidatePath checks that path is relative and does not escape its root.
func ValidatePath(field, path string) error {
	if err := validatePath(path); err != nil {
		return apperrors.Validation(field, fmt.Sprintf("invalid %s: %v", field, err))
	}
	return nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL.
func ValidateURL(field, rawURL string) error {
	if rawURL == "" {
		return apperrors.Validation(field, field+" is required")
	}
	if err := validateURL(rawURL); err != nil {
		return apperrors.Validation(field, fmt.Sprintf("invalid %s: %v", field, err))
	}
	return nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be relative, not absolute")
	}

	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("path traversal not allowed")
	}

	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed")
		}
	}

	return nil
}
