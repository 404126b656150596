package paths

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	ErrRelativePath    = errors.New("output path must be absolute")
	ErrInvalidFileName = errors.New("invalid file name")
)

var (
	// $NAME runs until the next slash, %NAME% until the closing percent sign.
	posixVarRegex   = regexp.MustCompile(`\$([^/]+)`)
	windowsVarRegex = regexp.MustCompile(`%([^%]+)%`)

	driveSlashRegex   = regexp.MustCompile(`^/([a-zA-Z]):`)
	driveEncodedRegex = regexp.MustCompile(`^/([a-zA-Z])%3[aA]`)
	windowsAbsRegex   = regexp.MustCompile(`^[a-zA-Z]:[\\/]`)

	fileNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// LookupFunc resolves an environment variable.
type LookupFunc func(name string) (string, bool)

// ExpandEnv substitutes environment references in p: %NAME% on Windows, $NAME
// elsewhere. If any reference cannot be resolved, p is returned unchanged.
func ExpandEnv(p string, windows bool, lookup LookupFunc) string {
	re := posixVarRegex
	if windows {
		re = windowsVarRegex
	}

	var missing []string
	expanded := re.ReplaceAllStringFunc(p, func(ref string) string {
		name := re.FindStringSubmatch(ref)[1]
		value, ok := lookup(name)
		if !ok || value == "" {
			missing = append(missing, name)
			return ref
		}
		return value
	})
	if len(missing) > 0 {
		log.Warnf("Could not resolve environment variable(s) %s in path %s, using it as given", strings.Join(missing, ", "), p)
		return p
	}
	return expanded
}

// NormalizeWindowsDrive rewrites URL-style drive prefixes such as /c:/ and /c%3A/
// into C:\.
func NormalizeWindowsDrive(p string) string {
	upper := func(m []string) string { return strings.ToUpper(m[1]) + `:\` }
	if m := driveEncodedRegex.FindStringSubmatch(p); m != nil {
		return upper(m) + strings.TrimLeft(p[len(m[0]):], `/\`)
	}
	if m := driveSlashRegex.FindStringSubmatch(p); m != nil {
		return upper(m) + strings.TrimLeft(p[len(m[0]):], `/\`)
	}
	return p
}

// ResolveOutputPath expands, normalizes and validates a caller supplied output
// directory for the current platform.
func ResolveOutputPath(raw string) (string, error) {
	return ResolveOutputPathFor(raw, runtime.GOOS, os.LookupEnv)
}

// ResolveOutputPathFor is ResolveOutputPath for an explicit platform and environment.
func ResolveOutputPathFor(raw, goos string, lookup LookupFunc) (string, error) {
	windows := goos == "windows"
	p := ExpandEnv(strings.TrimSpace(raw), windows, lookup)

	if windows {
		p = NormalizeWindowsDrive(p)
		if !windowsAbsRegex.MatchString(p) && !strings.HasPrefix(p, `\\`) {
			return "", fmt.Errorf("%w: %s", ErrRelativePath, raw)
		}
		return cleanWindows(p), nil
	}

	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %s", ErrRelativePath, raw)
	}
	return path.Clean(p), nil
}

// cleanWindows cleans a drive or UNC path with backslash separators regardless
// of the host platform.
func cleanWindows(p string) string {
	if runtime.GOOS == "windows" {
		return filepath.Clean(p)
	}
	slashed := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(slashed, "//") {
		return `\\` + strings.ReplaceAll(strings.TrimPrefix(path.Clean("/"+strings.TrimLeft(slashed, "/")), "/"), "/", `\`)
	}
	volume, rest := slashed[:2], slashed[2:]
	return volume + strings.ReplaceAll(path.Clean(rest), "/", `\`)
}

// ValidateFileName checks that name is a bare base name: letters, digits, '-' and '_'
// only, and therefore no extension or directory part.
func ValidateFileName(name string) error {
	if !fileNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q (use letters, digits, '-' and '_' only, without extension)", ErrInvalidFileName, name)
	}
	return nil
}
