// Package history keeps recently dispatched alerts in memory for the API.
package history
