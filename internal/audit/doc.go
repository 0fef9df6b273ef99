// Package audit records who did what to which receiver.
//
// Every command, pairing and unpairing from the HTTP API or the MQTT bridge
// is written to the audit_logs table through a Recorder. Recording is
// best-effort: a failed insert is logged and never fails the operation
// being audited.
package audit
