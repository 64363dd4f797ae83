// Package chatclient provides the shared pieces of the conversation
// client: the error taxonomy used across the api and controller
// packages, local identifier generation, and pure text formatting
// helpers for presentation layers.
package chatclient
