// Package store defines the persisted records of the crawler and the typed
// repository interfaces over them. Implementations live in sub-packages; this
// package must not import database drivers or concrete clients.
package store
