// Package infrastructure holds helpers shared by the storage adapters.
package infrastructure

import (
	"net/url"
	"strings"
)

const (
	motherDuckScheme = "motherduck"
	motherDuckPrefix = "md:"
	tokenParam       = "motherduck_token"
)

// IsMotherDuckDSN reports whether dsn names a MotherDuck database, either
// in DuckDB's md:<db> form or as a motherduck://<db> URI.
func IsMotherDuckDSN(dsn string) bool {
	return strings.HasPrefix(dsn, motherDuckPrefix) ||
		strings.HasPrefix(dsn, motherDuckScheme+"://")
}

// ResolveDSN turns a configured database name into the DSN handed to the
// DuckDB driver. motherduck://<db> becomes md:<db>, and token is added as
// motherduck_token unless the DSN already carries one. Local paths are
// returned unchanged.
func ResolveDSN(dsn, token string) string {
	if !IsMotherDuckDSN(dsn) {
		return dsn
	}

	db, rawQuery := normalizeMotherDuck(dsn)
	if token == "" {
		return join(db, rawQuery)
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return join(db, rawQuery)
	}
	if q.Get(tokenParam) == "" {
		q.Set(tokenParam, token)
	}
	return join(db, q.Encode())
}

// normalizeMotherDuck splits dsn into md:<db> and its raw query.
func normalizeMotherDuck(dsn string) (string, string) {
	rest := strings.TrimPrefix(dsn, motherDuckPrefix)
	if strings.HasPrefix(dsn, motherDuckScheme+"://") {
		rest = strings.TrimPrefix(dsn, motherDuckScheme+"://")
		rest = strings.TrimLeft(rest, "/")
	}
	db, rawQuery, _ := strings.Cut(rest, "?")
	return motherDuckPrefix + db, rawQuery
}

func join(db, rawQuery string) string {
	if rawQuery == "" {
		return db
	}
	return db + "?" + rawQuery
}
