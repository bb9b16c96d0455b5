// Package cache provides the keyed TTL cache used for retrieval context
// and isolated tool results. Each cache instance owns one concern and is
// injected into its consumer; instances are never shared across concerns.
//
// A cache may be backed by a remote Redis tier. Remote health is checked
// lazily on first use; once the remote tier is found unreachable the
// cache runs on its in-process copy for the remainder of the process
// lifetime (degraded mode). Remote faults never propagate to callers.
package cache
