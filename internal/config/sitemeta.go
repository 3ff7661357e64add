package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
)

// SiteMetaFile is the metadata file name looked up in path.src.data.
const SiteMetaFile = "site.json"

// SiteMeta is the decoded site metadata exposed to templates as siteMeta.
type SiteMeta map[string]interface{}

// LoadSiteMeta reads <dir>/site.json.
//
// A missing file yields an empty SiteMeta. Malformed JSON, or JSON whose
// top level is not an object, returns a config error: rendering depends
// on the metadata, so callers treat it as fatal.
func LoadSiteMeta(dir string) (SiteMeta, error) {
	path := filepath.Join(dir, SiteMetaFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return SiteMeta{}, nil
	}
	if err != nil {
		return nil, perrors.NewIOError(perrors.ErrCodeFileNotFound, "failed to read site metadata", err).WithPath(path)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return SiteMeta{}, nil
	}

	var meta SiteMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		cfgErr := perrors.NewConfigError(perrors.ErrCodeSiteMetaInvalid, "malformed site metadata", err).WithPath(path)
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			cfgErr.WithLine(lineOf(data, syntaxErr.Offset))
		}
		return nil, cfgErr
	}
	if meta == nil {
		meta = SiteMeta{}
	}

	return meta, nil
}

func lineOf(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return bytes.Count(data[:offset], []byte("\n")) + 1
}
