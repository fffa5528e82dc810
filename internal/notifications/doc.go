// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Each event family
// can be silenced through the [notifications] toggles. Workflow code depends
// only on the Service interface.
package notifications
