//go:build !sqlite
// +build !sqlite

package journal

import (
	"errors"

	"github.com/rs/zerolog"
)

func openSQLite(cfg Config, log zerolog.Logger) (Journal, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite journal not built: build with -tags sqlite")
}
