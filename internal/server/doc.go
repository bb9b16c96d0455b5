// Package server owns the HTTP surface: the lifecycle manager for the
// listener and the routes exposing the context pipeline, health and
// metrics. It is internal; the service binary is the only consumer.
package server
