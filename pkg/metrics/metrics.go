// Package metrics defines the Prometheus counters this endpoint exposes:
// bytes and files transferred, protocol errors, and completed sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BytesTransferred counts file payload bytes moved, labeled by
	// direction ("send"/"receive") and protocol letter.
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uucp_bytes_transferred_total",
			Help: "Total file payload bytes transferred.",
		}, []string{"direction", "protocol"})

	// FilesTransferred counts finished file transfers, labeled the same
	// way as BytesTransferred (direction is "unknown" for a transfer
	// failed in flight), plus an "outcome": "ok" for a receive;
	// "complete", "failed", "deferred" or "rejected" for a send.
	FilesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uucp_files_transferred_total",
			Help: "Total file transfers completed.",
		}, []string{"direction", "protocol", "outcome"})

	// ProtocolErrors counts link-protocol decode errors, labeled by
	// protocol letter and error kind ("bad_header", "bad_checksum",
	// "out_of_order", "remote_reject").
	ProtocolErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uucp_protocol_errors_total",
			Help: "Total link-protocol decode errors encountered.",
		}, []string{"protocol", "kind"})

	// SessionsTotal counts completed sessions, labeled by the
	// statusfile.Status name they ended in.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uucp_sessions_total",
			Help: "Total sessions completed, by final status.",
		}, []string{"status"})
)
