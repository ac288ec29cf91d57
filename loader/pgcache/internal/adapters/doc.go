// Package adapters lets the PostgreSQL result cache run on pgxpool.Pool, sql.DB or sqlx.DB.
//
// All three are wrapped behind DBAdapter, which runs parameterized statements
// ($1, $2, ... placeholders) and exposes rows and results through small interfaces.
package adapters
