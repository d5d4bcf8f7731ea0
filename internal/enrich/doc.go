// Package enrich asks an LLM to explain an alert before it is dispatched.
//
// The provider is optional: callers check Enabled first, and a failed
// analysis never blocks the alert it was meant to enrich.
package enrich
