// Package chromecast implements the MQTT bridge between the Gray Logic
// automation engine and the graycast cast core.
//
// The bridge translates between the Gray Logic bridge topic scheme and the
// typed command façade in package cast:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │ Chromecast      │   cast v2
//	│      Core       │◄────────►│ Bridge (here)   │◄────────► Receivers
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
//   - graylogic/command/chromecast/{device}: commands in, acked on
//     graylogic/ack/chromecast/{device}
//   - graylogic/request/chromecast/{device}: read requests, answered on
//     graylogic/response/chromecast/{request_id}
//   - graylogic/state/chromecast/{device}: capability state (retained)
//   - graylogic/health/chromecast: bridge health and LWT (retained)
//   - graylogic/discovery/chromecast: known receivers (retained)
//
// Commands run concurrently, each bounded by the bridge context so Stop
// aborts them.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package chromecast
