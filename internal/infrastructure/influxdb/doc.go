// Package influxdb records graycast telemetry in InfluxDB 2.x.
//
// Two measurements are written:
//
//	cast_capability  tags: device_id, capability   fields: value (float)
//	cast_discovery   tags: device_id, class, model fields: name, address, port
//
// Capability values are normalised to floats (booleans as 0/1, positions
// in milliseconds) so that the value field keeps a single type across
// capabilities.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCapability(deviceID, "volume_set", 0.35, time.Now())
//
// Writes go through the non-blocking, batched write API (batch_size,
// flush_interval); failures are reported through SetOnError.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
