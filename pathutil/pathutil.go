// Package pathutil provides the path construction helpers the Store
// staging/promotion protocol relies on (spec §4.6 step 3, §6): entity
// template substitution, staging-path derivation, and filename pattern
// rendering. All functions operate on forward-slash paths so they work
// identically against a local filesystem, S3 keys, or ADLS paths.
package pathutil

import (
	"fmt"
	"strings"

	"hygge.dev/ferrors"
)

// StagingDir is the reserved directory segment inserted before the entity
// segment of a path to derive its staging location.
const StagingDir = "_tmp"

// SubstituteEntity replaces every "{entity}" template in path with
// entityName. If entityName is empty, path is returned unchanged.
func SubstituteEntity(path, entityName string) string {
	if entityName == "" || !strings.Contains(path, "{entity}") {
		return path
	}
	return strings.ReplaceAll(path, "{entity}", entityName)
}

// Join joins parts into a single forward-slash path, trimming redundant
// slashes and skipping empty parts.
func Join(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.Trim(p, "/")
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return strings.Join(clean, "/")
}

// Parts splits path into its non-empty segments.
func Parts(path string) []string {
	if path == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Filename returns the last segment of path.
func Filename(path string) string {
	parts := Parts(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// BuildStagingPath inserts StagingDir immediately before entityName's
// segment in basePath, then appends filename. When entityName is empty,
// StagingDir is simply appended to basePath. When entityName is non-empty
// but does not appear as an exact path segment of basePath, this is a
// ConfigError: the staging location cannot be unambiguously derived.
func BuildStagingPath(basePath, entityName, filename string) (string, error) {
	if entityName == "" {
		return Join(basePath, StagingDir, filename), nil
	}

	baseClean := strings.TrimRight(basePath, "/")
	if baseClean == "" {
		return Join(StagingDir, entityName, filename), nil
	}

	parts := Parts(baseClean)
	idx := -1
	for i, p := range parts {
		if p == entityName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ferrors.NewConfigError(
			fmt.Sprintf("entity %q not found in base path %q; entity name must appear as a path segment", entityName, basePath), nil)
	}

	if idx > 0 {
		prefix := strings.Join(parts[:idx], "/")
		return Join(prefix, StagingDir, entityName, filename), nil
	}
	return Join(StagingDir, entityName, filename), nil
}

// BuildFinalPath joins basePath and filename, tolerating a trailing slash
// on basePath.
func BuildFinalPath(basePath, filename string) string {
	baseClean := strings.TrimRight(basePath, "/")
	if baseClean == "" {
		return filename
	}
	return Join(baseClean, filename)
}

// MergePaths concatenates paths, preserving a leading slash if the first
// path (paths[0]) was absolute.
func MergePaths(paths ...string) string {
	if len(paths) == 0 {
		return ""
	}
	absolute := strings.HasPrefix(paths[0], "/")

	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		trimmed := strings.Trim(p, "/")
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return ""
	}

	merged := strings.Join(clean, "/")
	if absolute && !strings.HasPrefix(merged, "/") {
		merged = "/" + merged
	}
	return merged
}
