// Package store provides abstractions for data persistence.
package store
