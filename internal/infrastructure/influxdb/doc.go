// Package influxdb records mailbox activity (recordings, playbacks, PIN
// attempts, uploads) in InfluxDB.
//
// It is optional: when influxdb.enabled is false, Connect returns
// ErrDisabled and callers use a no-op recorder instead.
//
// Usage:
//
//	metrics, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Host.Name)
//	if err != nil {
//	    return err
//	}
//	defer metrics.Close()
//	metrics.RecordPlayback("kitchen", 4*time.Second)
package influxdb
