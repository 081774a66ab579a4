//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"
	"testing"

	logx "threadrunner/pkg/logx"
)

func TestOpenSQLiteWithoutTag(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "sqlite3", Path: "unused.db"}, logx.Nop())
	if st != nil || !errors.Is(err, ErrSQLiteUnavailable) {
		t.Fatalf("Open(sqlite3) = %v, %v, want nil, ErrSQLiteUnavailable", st, err)
	}
}
