package database

import (
	"cmp"
	"net"
	"net/url"
	"strconv"

	"github.com/solvys-technologies/pulse-sub000/internal/config"
)

// ApplicationName identifies journal connections in pg_stat_activity.
const ApplicationName = "pulse-realtime"

// BuildConnString builds the journal's PostgreSQL URL from config.
func BuildConnString(cfg config.DBConfig) string {
	q := url.Values{}
	q.Set("sslmode", cmp.Or(cfg.SSLMode, config.DefaultDBSSLMode))
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
