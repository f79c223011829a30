// Package database builds the tick-store connection pool.
package database
