//go:build !sqlite
// +build !sqlite

package job

import (
	"errors"

	logx "fetchrelay/pkg/logx"
)

func openSQLiteStore(cfg StoreConfig, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite job store not built: build with -tags sqlite")
}
