// Package redis provides the Redis integration used to coordinate scan
// cycles across instances.
//
// # Overview
//
// The package has three components:
//   - Client: connection management with TLS, pooling and retry logic
//   - Lock: a SET NX PX lease with owner-checked release, used by the scan
//     scheduler so two instances never run a cycle at the same time
//   - AlertSuppressor: a SETNX marker per client so a client that stays
//     COMPROMISED is alerted at most once per window
//
// # Quick Start
//
//	client, err := redis.New(&cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	lock, _ := redis.NewLock(client, "scan_cycle", cfg.Redis.LockTTL)
//	lease, err := lock.Acquire(ctx)
//	if errors.Is(err, redis.ErrLockHeld) {
//		return nil // another instance is scanning
//	}
//	defer lease.Release(ctx)
package redis
