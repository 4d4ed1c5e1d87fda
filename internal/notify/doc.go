// Package notify delivers "the change log may have grown" signals.
//
// Commits made through this process's store reach the Notifier directly
// (it is the store's CommitObserver). Commits made by other processes are
// detected by the Watcher, which polls SQLite's data_version, and optionally
// by the MQTTBridge, which exchanges commit notices over an MQTT topic.
//
// Signals are coalesced: a subscriber that is slow to react sees one pending
// Notice summarizing everything since its last Take.
package notify
