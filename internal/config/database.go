package config

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// DSN returns a MySQL-compatible data source name. When ConnectionString is
// set it is used directly; otherwise the DSN is built from discrete fields.
// parseTime and a UTC location are always enforced so period bounds compare
// consistently.
func (d *DatabaseConfig) DSN() string {
	if d.ConnectionString != "" {
		return normalizeDSN(d.ConnectionString)
	}
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		d.User,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
	)
}

func normalizeDSN(dsn string) string {
	if !strings.Contains(dsn, "parseTime") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}
	if !strings.Contains(dsn, "loc=") {
		dsn += "&loc=UTC"
	}
	return dsn
}

// PrimaryDSN returns the tenant primary DSN with parseTime and a UTC
// location enforced.
func (t *TenantConfig) PrimaryDSN() string {
	return normalizeDSN(t.DSN)
}

// ReplicaDSN returns the normalized read replica DSN, or empty when the
// tenant has no replica.
func (t *TenantConfig) ReplicaDSN() string {
	if strings.TrimSpace(t.ReadReplicaDSN) == "" {
		return ""
	}
	return normalizeDSN(t.ReadReplicaDSN)
}

// SchemaName reports the database targeted by a tenant DSN, used by the
// startup schema check.
func SchemaName(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid DSN: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}
