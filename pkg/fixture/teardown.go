package fixture

import (
	"context"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Teardown closes every handle of r then removes dirs. Both steps run to
// completion whatever fails. Missing dirs are not an error, so a second
// run is a no-op.
func Teardown(ctx context.Context, r *Registry, dirs []string) error {
	return teardown(ctx, slog.Default(), r, dirs)
}

func teardown(ctx context.Context, logger *slog.Logger, r *Registry, dirs []string) error {
	var errs *multierror.Error

	if err := r.CloseAll(); err != nil {
		logger.WarnContext(ctx, "could not close every fixture", slog.Any("error", err))
		errs = multierror.Append(errs, err)
	}

	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			logger.WarnContext(ctx, "could not remove fixture directory", slog.String("dir", dir), slog.Any("error", err))
			errs = multierror.Append(errs, errors.Wrapf(err, "could not remove '%s'", dir))
		}
	}

	return errs.ErrorOrNil()
}
