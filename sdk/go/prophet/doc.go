// Package prophet is a Go client for the Prophet-Chain REST API.
package prophet
