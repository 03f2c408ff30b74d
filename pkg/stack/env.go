package stack

import (
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// ResolveEnv merges a service's env_file entries (in declaration order) with
// its inline environment map. Inline values win over file values; later files
// win over earlier ones. Relative env_file paths are resolved against baseDir.
func ResolveEnv(baseDir string, svc Service) (map[string]string, error) {
	out := map[string]string{}
	for _, path := range svc.EnvFile {
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read env file %s", path)
		}
		for k, v := range vars {
			out[k] = v
		}
	}
	for k, v := range svc.Environment {
		out[k] = v
	}
	return out, nil
}
