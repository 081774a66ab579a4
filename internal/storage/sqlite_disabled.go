//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "threadrunner/pkg/logx"
)

// ErrSQLiteUnavailable is returned by Open for the sqlite driver in builds
// without the sqlite tag.
var ErrSQLiteUnavailable = errors.New("storage: sqlite driver not compiled in (build with -tags sqlite)")

func openSQLite(Config, logx.Logger) (Store, error) { return nil, ErrSQLiteUnavailable }
