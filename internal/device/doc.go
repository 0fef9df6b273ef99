// Package device holds the paired Chromecast list for graycast.
//
// A paired device is one the automation engine has adopted (pairing flow or
// API). Only identity and user preferences are persisted; the network
// location is re-resolved from mDNS after every start by the cast registry.
//
// # Key Types
//
//   - Device: a paired receiver with its class and loop/shuffle preferences
//   - Repository: persistence interface, implemented by SQLiteRepository
//   - Registry: cached, thread-safe front used by the API and the cast
//     controller (it is the controller's preference store)
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	reg := device.NewRegistry(repo)
//	reg.SetLogger(logger.With("component", "device"))
//	if err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	prefs, err := reg.Prefs(ctx, id)
package device
