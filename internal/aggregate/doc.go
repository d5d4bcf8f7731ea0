// Package aggregate collects request samples over a fixed window and turns
// them into golden-signal alerts.
//
// Each cycle computes the P95 response time and the error rate of the
// samples recorded since the previous cycle, compares both against their
// warning and critical thresholds, and resets the window. An empty window is
// left untouched.
package aggregate
