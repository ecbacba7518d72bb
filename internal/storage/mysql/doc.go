// Package mysql provides the shared MySQL connection pool and the embedded
// schema migrations used by the MySQL backed message store.
package mysql
