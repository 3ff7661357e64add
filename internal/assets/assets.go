// Package assets copies the static asset tree (fonts, downloads, favicons)
// into the output directory.
package assets

import (
	"context"
	"path/filepath"

	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
)

// Dir is the directory name, below both the source and output roots,
// holding static assets.
const Dir = "assets"

// Copy copies <srcRoot>/assets to <destRoot>/assets and returns the number
// of files copied.
func Copy(ctx context.Context, logger logging.Logger, srcRoot, destRoot string) (int, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	n, err := fsutil.CopyTree(ctx, filepath.Join(srcRoot, Dir), filepath.Join(destRoot, Dir))
	if err != nil {
		return n, err
	}
	logger.WithComponent("assets").Info(ctx, "Copied static assets", "files", n)
	return n, nil
}
