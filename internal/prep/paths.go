package prep

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Confine resolves the request's paths against the given roots and rejects
// any that escape them. Exposure, keys and profile paths resolve against
// inputRoot; the target directory against outputRoot. Relative paths are
// joined to their root, absolute ones must already lie under it. An empty
// root leaves its paths untouched, as do empty ProfilePath and TargetDir.
func (r Request) Confine(inputRoot, outputRoot string) (Request, error) {
	var err error
	if r.ExposurePath, err = confinePath("exposure_path", r.ExposurePath, inputRoot); err != nil {
		return r, err
	}
	if r.KeysPath, err = confinePath("keys_path", r.KeysPath, inputRoot); err != nil {
		return r, err
	}
	if r.ProfilePath, err = confinePath("profile_path", r.ProfilePath, inputRoot); err != nil {
		return r, err
	}
	if r.TargetDir, err = confinePath("target_dir", r.TargetDir, outputRoot); err != nil {
		return r, err
	}
	return r, nil
}

func confinePath(field, path, root string) (string, error) {
	if path == "" || root == "" {
		return path, nil
	}

	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &RequestError{Reason: fmt.Sprintf("%s %q is outside %s", field, path, root)}
	}
	return full, nil
}
