package profile

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/oed_location_profile.json
var defaultProfileJSON []byte

// Default returns the built-in OED location exposure profile.
func Default() Profile {
	p, err := Parse(defaultProfileJSON, ".json")
	if err != nil {
		panic(fmt.Sprintf("embedded exposure profile is invalid: %v", err))
	}
	return p
}

// Load reads an exposure profile from a .json, .yaml or .yml file.
// Read and decode failures are reported as ConfigurationError.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("read %s: %v", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes profile data; ext selects the format.
func Parse(data []byte, ext string) (Profile, error) {
	var p Profile

	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, configErrorf("decode JSON profile: %v", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, configErrorf("decode YAML profile: %v", err)
		}
	default:
		return nil, configErrorf("unsupported profile format %q", ext)
	}

	return p, nil
}

// LoadResolved loads the profile at path, or the default profile when path
// is empty, and resolves it.
func LoadResolved(path string) (*Resolved, error) {
	p := Default()
	if path != "" {
		var err error
		if p, err = Load(path); err != nil {
			return nil, err
		}
	}
	return Resolve(p)
}
