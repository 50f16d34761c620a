package zdbdriver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/lib/pq"

	"github.com/icgo-zdb/zdb/zdburl"
)

func init() {
	opener := OpenerFunc(openPostgres)
	Register("pgsql", opener)
	Register("postgres", opener)
}

// openPostgres builds a libpq-style connection URI from u and connects
// once via pq.NewConnector, the same way openMySQL does for MySQL:
// directly through the driver.Connector, bypassing database/sql entirely.
func openPostgres(ctx context.Context, u *zdburl.URL) (Conn, error) {
	uri := &url.URL{
		Scheme: "postgres",
		Host:   u.Host(),
		Path:   "/" + u.Path(),
	}
	if u.User() != "" {
		if u.Password() != "" {
			uri.User = url.UserPassword(u.User(), u.Password())
		} else {
			uri.User = url.User(u.User())
		}
	}

	port := u.Port()
	if port < 0 {
		port = 5432
	}
	uri.Host = fmt.Sprintf("%s:%d", u.Host(), port)

	query := url.Values{"connect_timeout": {"10"}}
	if v, ok := u.Parameter("use-ssl"); ok && (v == "true" || v == "1") {
		query.Set("sslmode", "require")
	} else {
		query.Set("sslmode", "disable")
	}
	// lib/pq has no fetch-size knob on the connection URI or its driver.Rows;
	// ResultSet.SetFetchSize (spec.md §4.5) is a no-op for this backend.
	uri.RawQuery = query.Encode()

	connector, err := pq.NewConnector(uri.String())
	if err != nil {
		return nil, fmt.Errorf("building postgres connector: %w", err)
	}

	raw, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return Wrap(raw), nil
}
