// Package metrics exposes Prometheus counters and gauges driven by the
// event bus, served over HTTP the same way the daemon's other plugins
// serve their own listeners.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bytesbymike/wicked/pkg/component"
	"github.com/bytesbymike/wicked/pkg/events"
	"github.com/bytesbymike/wicked/pkg/logger"
)

// Component subscribes to the event bus and serves the resulting
// counters and gauges at /metrics.
type Component struct {
	*component.Base
	logger *slog.Logger
	bus    events.Bus
	addr   string
	server *http.Server

	subs []events.Subscription

	stateChanges     *prometheus.CounterVec
	leasesAcquired   *prometheus.CounterVec
	leasesReleased   *prometheus.CounterVec
	leasesLost       *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	linkUp           *prometheus.GaugeVec
	currentState     *prometheus.GaugeVec
	leaseAddresses   *prometheus.GaugeVec
}

func New(bus events.Bus, addr string) *Component {
	c := &Component{
		Base:   component.NewBase(logger.Metrics),
		logger: logger.Get(logger.Metrics),
		bus:    bus,
		addr:   addr,

		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicked",
			Name:      "state_transitions_total",
			Help:      "Count of FSM state transitions, by interface, source state, and destination state.",
		}, []string{"interface", "from", "to"}),

		leasesAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicked",
			Name:      "leases_acquired_total",
			Help:      "Count of leases successfully bound, by interface.",
		}, []string{"interface"}),

		leasesReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicked",
			Name:      "leases_released_total",
			Help:      "Count of user-initiated lease releases, by interface.",
		}, []string{"interface"}),

		leasesLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicked",
			Name:      "leases_lost_total",
			Help:      "Count of leases abandoned without an explicit release, by interface and reason.",
		}, []string{"interface", "reason"}),

		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicked",
			Name:      "packets_dropped_total",
			Help:      "Count of inbound DHCPv6 messages dropped before reaching the FSM, by interface and reason.",
		}, []string{"interface", "reason"}),

		linkUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wicked",
			Name:      "link_up",
			Help:      "1 if the interface's link is up, 0 otherwise.",
		}, []string{"interface"}),

		currentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wicked",
			Name:      "fsm_state",
			Help:      "1 for the interface's current FSM state, 0 for every other known state.",
		}, []string{"interface", "state"}),

		leaseAddresses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wicked",
			Name:      "lease_addresses",
			Help:      "Number of addresses in the interface's current lease.",
		}, []string{"interface"}),
	}
	return c
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		c.stateChanges, c.leasesAcquired, c.leasesReleased, c.leasesLost,
		c.packetsDropped, c.linkUp, c.currentState, c.leaseAddresses,
	)

	if c.bus != nil {
		c.subs = append(c.subs,
			c.bus.Subscribe(events.TopicStateChanged, c.onStateChanged),
			c.bus.Subscribe(events.TopicLeaseAcquired, c.onLeaseAcquired),
			c.bus.Subscribe(events.TopicLeaseReleased, c.onLeaseReleased),
			c.bus.Subscribe(events.TopicLeaseLost, c.onLeaseLost),
			c.bus.Subscribe(events.TopicLinkStateEvent, c.onLinkState),
			c.bus.Subscribe(events.TopicPacketDropped, c.onPacketDropped),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{Addr: c.addr, Handler: mux}
	c.Go(func() {
		c.logger.Info("metrics server listening", "addr", c.addr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", "error", err)
		}
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.server.Shutdown(shutdownCtx)
	}
	c.StopContext()
	return nil
}

func (c *Component) onStateChanged(e events.Event) {
	ev, ok := e.Data.(events.StateChangedEvent)
	if !ok {
		return
	}
	c.stateChanges.WithLabelValues(ev.Interface, ev.From, ev.To).Inc()
	c.currentState.WithLabelValues(ev.Interface, ev.From).Set(0)
	c.currentState.WithLabelValues(ev.Interface, ev.To).Set(1)
}

func (c *Component) onLeaseAcquired(e events.Event) {
	ev, ok := e.Data.(events.LeaseAcquiredEvent)
	if !ok {
		return
	}
	c.leasesAcquired.WithLabelValues(ev.Interface).Inc()
	c.leaseAddresses.WithLabelValues(ev.Interface).Set(float64(len(ev.Addresses)))
}

func (c *Component) onLeaseReleased(e events.Event) {
	ev, ok := e.Data.(events.LeaseReleasedEvent)
	if !ok {
		return
	}
	c.leasesReleased.WithLabelValues(ev.Interface).Inc()
	c.leaseAddresses.WithLabelValues(ev.Interface).Set(0)
}

func (c *Component) onLeaseLost(e events.Event) {
	ev, ok := e.Data.(events.LeaseLostEvent)
	if !ok {
		return
	}
	c.leasesLost.WithLabelValues(ev.Interface, ev.Reason).Inc()
	c.leaseAddresses.WithLabelValues(ev.Interface).Set(0)
}

func (c *Component) onLinkState(e events.Event) {
	ev, ok := e.Data.(events.LinkStateEvent)
	if !ok {
		return
	}
	v := 0.0
	if ev.Up {
		v = 1.0
	}
	c.linkUp.WithLabelValues(ev.Interface).Set(v)
}

func (c *Component) onPacketDropped(e events.Event) {
	ev, ok := e.Data.(events.PacketDroppedEvent)
	if !ok {
		return
	}
	c.packetsDropped.WithLabelValues(ev.Interface, ev.Reason).Inc()
}
