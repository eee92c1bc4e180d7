// Package server implements the HTTP and websocket surface using the Echo framework.
//
// Routes: health probes, metrics, display introspection, the /ws upgrade
// endpoint, plus whatever each registered module mounts. Socket events are
// dispatched from the websocket read loop to module handlers.
package server
