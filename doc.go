// Package groundstream receives rocket telemetry on a ground station,
// decodes it into typed field bundles, and serves it onward to dashboards,
// a message broker, and local snapshot files.
//
// # Architecture
//
// One fixed pipeline moves data from the radio link to the consumers:
//
//	┌───────────┐   frames    ┌───────────────────────────────┐
//	│ Transport │────────────→│          Pipeline             │
//	│ (udp,     │←────────────│  read → decode → map → store  │
//	│ loopback) │  commands   └──────┬──────────────┬─────────┘
//	└───────────┘                    │ bundles      │ commands
//	                                 ↓              ↑
//	                    ┌────────────┼────────────┐ SendCommand
//	                    ↓            ↓            ↓
//	               ┌─────────┐  ┌─────────┐  ┌──────────┐
//	               │  Relay  │  │  Feed   │  │Autosaver │
//	               │ (NATS)  │  │  (ws)   │  │ (JSON)   │
//	               └─────────┘  └─────────┘  └──────────┘
//
// Inbound, the read worker receives raw frames from the transport and
// decodes them with the packet codec. The map worker translates decoded
// packets into telemetry bundles using a device profile and inserts them
// into the store, which assigns a monotonic sequence and fans the bundle
// out to registered observers. Outbound, named commands resolve through
// the profile's command table and leave through the same transport.
//
// Consumers are optional and independent: the relay publishes bundle
// envelopes to NATS subjects (plain or JetStream), the feed broadcasts
// them to WebSocket dashboard clients with a latest-value snapshot on
// connect, and the autosaver periodically persists the latest values to
// an atomic JSON file. Each consumer buffers behind the pipeline with a
// drop-oldest ring so a slow broker or client never stalls decoding.
//
// # Packages
//
// Telemetry model:
//   - telemetry: field identifiers, typed values, bundles, envelopes
//   - packet: wire codec for the radio protocol
//   - mapping: device profiles (field tables, command tables) and the
//     packet-to-bundle translator
//
// Processing:
//   - transport: frame link abstraction; transport/udp and
//     transport/loopback implementations
//   - pipeline: the read/map/send workers and their bounded queues
//   - store: latest-value and history retention, sequence assignment
//
// Consumers:
//   - relay: NATS bundle publisher
//   - feed: WebSocket broadcast server
//   - persist: atomic snapshot file sink
//
// Infrastructure:
//   - config: layered configuration (defaults, file, environment)
//   - errors: classified errors (transient, fatal, invalid)
//   - eventbus: named counters with waitable thresholds
//   - health: component health checks and the aggregate endpoint
//   - metric: Prometheus registry and observability server
//   - service: ordered component lifecycle manager
//   - pkg/buffer, pkg/retry: bounded rings and retry policies
//
// # Usage
//
// Wire a station from a resolved configuration:
//
//	st := store.New()
//	translator := mapping.NewTranslator(mapping.Default(), logger)
//	tr, _ := udp.New(transport.Config{Address: ":9200"}, logger)
//
//	p, _ := pipeline.New(pipeline.Config{}, tr, translator, st,
//	    pipeline.WithLogger(logger))
//
//	r, _ := relay.New(relay.Config{URL: "nats://localhost:4222"})
//	p.RegisterObserver(r)
//
//	mgr := service.NewManager(logger)
//	mgr.Add("relay", r)
//	mgr.Add("pipeline", p)
//	mgr.StartAll(ctx)
//	defer mgr.StopAll(ctx)
//
// The groundstream binary in cmd/groundstream performs exactly this
// wiring from flags, a JSON or YAML config file, and GROUNDSTREAM_*
// environment variables.
//
// # Design Principles
//
// Bounded everything:
//   - Every queue between goroutines has a fixed capacity
//   - The read side applies backpressure; consumer sides drop oldest
//   - Drops are counted and logged, never silent
//
// Testability:
//   - Explicit dependencies (no globals)
//   - Event counters make asynchronous behavior waitable in tests
//   - Integration tests run against real servers via testcontainers
//
// Shutdown discipline:
//   - Components stop in reverse start order
//   - Producers stop before consumers drain
//   - Every goroutine is joined before Stop returns
package groundstream
