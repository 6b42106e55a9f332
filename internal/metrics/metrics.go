// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames pulled from the link driver
	FramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ministack_frames_received_total",
			Help: "Total number of frames received from the link driver",
		},
	)

	// FramesSentTotal counts frames handed to the link driver
	FramesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ministack_frames_sent_total",
			Help: "Total number of frames handed to the link driver",
		},
	)

	// DriverErrorsTotal counts link driver failures by operation
	DriverErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ministack_driver_errors_total",
			Help: "Total number of link driver send/recv failures",
		},
		[]string{"op"},
	)

	// DropsTotal counts silently discarded packets by layer and reason
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ministack_drops_total",
			Help: "Total number of discarded packets",
		},
		[]string{"layer", "reason"},
	)

	// ARPMessagesSentTotal counts ARP requests and replies sent
	ARPMessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ministack_arp_messages_sent_total",
			Help: "Total number of ARP messages sent",
		},
		[]string{"op"},
	)

	// ARPPendingExpiredTotal counts queued packets released because resolution timed out
	ARPPendingExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ministack_arp_pending_expired_total",
			Help: "Total number of queued packets dropped after ARP resolution timed out",
		},
	)

	// IPFragmentsSentTotal counts outbound IPv4 fragments of split datagrams
	IPFragmentsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ministack_ip_fragments_sent_total",
			Help: "Total number of IPv4 fragments sent for oversized datagrams",
		},
	)

	// IPFragmentsReceivedTotal counts inbound fragments delivered without reassembly
	IPFragmentsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ministack_ip_fragments_received_total",
			Help: "Total number of inbound IPv4 fragments delivered as whole datagrams",
		},
	)

	// ICMPMessagesSentTotal counts ICMP messages by type and code
	ICMPMessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ministack_icmp_messages_sent_total",
			Help: "Total number of ICMP messages sent",
		},
		[]string{"type", "code"},
	)

	// UDPDatagramsDeliveredTotal counts datagrams handed to port handlers
	UDPDatagramsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ministack_udp_datagrams_delivered_total",
			Help: "Total number of UDP datagrams delivered to port handlers",
		},
		[]string{"port"},
	)

	// TableSize tracks the entry count of the ARP table, pending cache and UDP port table
	TableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ministack_table_entries",
			Help: "Current number of entries per stack table",
		},
		[]string{"table"},
	)
)

// Table label values for TableSize.
const (
	TableARP        = "arp"
	TableARPPending = "arp_pending"
	TableUDPPorts   = "udp_ports"
)
