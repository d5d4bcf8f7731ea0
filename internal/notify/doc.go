// Package notify delivers alerts and operational events to chat and webhook
// targets.
//
// Every target implements Notifier. Fanout sends one event to many
// notifiers concurrently and collects each outcome; a failing target never
// blocks the others.
package notify
