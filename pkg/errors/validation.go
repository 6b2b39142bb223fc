package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// maxCrateNameLength is the crates.io limit on package names.
const maxCrateNameLength = 64

// crateNameRegex matches valid crates.io package names.
var crateNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateCrateName validates a crates.io package name.
//
// Names must start with an ASCII letter, contain only ASCII alphanumerics,
// '-' and '_', and be at most 64 characters. Control characters and path
// separators are rejected before the pattern check so the error message
// names the actual problem.
func ValidateCrateName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidPackage, "crate name cannot be empty")
	}
	if len(name) > maxCrateNameLength {
		return New(ErrCodeInvalidPackage, "crate name too long (max %d characters)", maxCrateNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPackage, "crate name contains invalid control characters")
		}
	}
	if strings.ContainsAny(name, "/\\.") {
		return New(ErrCodeInvalidPackage, "crate name contains path characters: %q", name)
	}
	if !crateNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackage, "invalid crate name: %q", name)
	}
	return nil
}

// repoSegmentRegex matches a single owner or repository path segment.
var repoSegmentRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateRepoSegment validates one segment (owner or name) of a hosted
// repository identity. Segments are placed into forge URLs, so traversal
// sequences are rejected.
func ValidateRepoSegment(kind, segment string) error {
	if segment == "" {
		return New(ErrCodeInvalidInput, "%s cannot be empty", kind)
	}
	if len(segment) > 100 {
		return New(ErrCodeInvalidInput, "%s too long (max 100 characters)", kind)
	}
	if segment == "." || segment == ".." || strings.Contains(segment, "..") {
		return New(ErrCodeInvalidInput, "%s cannot contain path traversal sequences", kind)
	}
	if !repoSegmentRegex.MatchString(segment) {
		return New(ErrCodeInvalidInput, "invalid %s: %q", kind, segment)
	}
	return nil
}

// ValidatePath validates a file path within a repository for safety.
// It prevents path traversal attacks and ensures reasonable path length.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return New(ErrCodeInvalidPath, "path cannot escape the repository root")
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}
	return nil
}
