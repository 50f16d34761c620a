package zdbdriver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/icgo-zdb/zdb/zdburl"
)

func init() {
	Register("mysql", OpenerFunc(openMySQL))
}

// openMySQL builds a *mysql.Connector from u and connects once, returning
// a raw database/sql/driver.Conn wrapped by Wrap. It never goes through
// database/sql.Open/DB, so go-sql-driver/mysql's own pool is never used —
// this pool is the only pool.
func openMySQL(ctx context.Context, u *zdburl.URL) (Conn, error) {
	cfg := mysql.NewConfig()
	cfg.User = u.User()
	cfg.Passwd = u.Password()
	cfg.DBName = u.Path()
	cfg.Timeout = 10 * time.Second
	cfg.ParseTime = true

	if isUnixSocket(u.Host()) {
		cfg.Net = "unix"
		cfg.Addr = u.Host()
	} else {
		cfg.Net = "tcp"
		port := u.Port()
		if port < 0 {
			port = 3306
		}
		cfg.Addr = net.JoinHostPort(u.Host(), strconv.Itoa(port))
	}

	if v, ok := u.Parameter("use-ssl"); ok && (v == "true" || v == "1") {
		cfg.TLSConfig = "true"
	}
	if v, ok := u.Parameter("fetch-size"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAllowedPacket = n * 1024
		}
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("building mysql connector: %w", err)
	}

	raw, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return Wrap(raw), nil
}

func isUnixSocket(host string) bool {
	return len(host) > 0 && host[0] == '/'
}
