// Package plugin implements the ordered hook chain that can rewrite or
// suppress alerts before they reach notifiers.
//
// A Plugin is a name plus optional hook functions. Processing runs in two
// phases over the registered plugins, always in registration order:
//
//  1. OnAlert (transform): each hook receives the current alert and returns the
//     replacement. Returning nil suppresses the alert and ends processing.
//  2. OnBeforeNotify (gate): each hook may veto delivery by returning false.
//
// Hook errors and panics in either phase are logged and the offending plugin is
// skipped for that alert; the alert continues unchanged through the rest of
// the chain. OnInit errors are returned from Register.
//
// builtin.go provides config-driven plugins (drop, min_severity, title_prefix,
// tag) whose conditions use the small expression language in condition.go.
package plugin
