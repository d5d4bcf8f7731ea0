// Package ws streams alerts and status to browser clients over WebSocket.
//
// The Hub is a notify.Notifier: every dispatched alert and every pipeline,
// deployment or report event is pushed to all connected clients as a JSON
// envelope. A status snapshot is sent on connect and on every Run tick.
package ws
