// Package api exposes the conversation thread over REST so that the agent
// runtime, the CLI and the Go SDK share one message log.
package api
