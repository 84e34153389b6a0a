// Package metrics holds the prometheus collectors shared by the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceAuthPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbot_device_auth_polls_total",
		Help: "Device authorization token polls by outcome",
	}, []string{"outcome"})

	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbot_commands_dispatched_total",
		Help: "Chat commands that produced a response, by command",
	}, []string{"command"})

	ChatMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbot_chat_messages_sent_total",
		Help: "Outgoing chat messages by result",
	}, []string{"result"})

	EventSubNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "songbot_eventsub_messages_total",
		Help: "EventSub websocket messages received by type",
	}, []string{"type"})

	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "songbot_chat_connection_state",
		Help: "0=disconnected 1=connecting 2=connected 3=reauth_required",
	})
)
