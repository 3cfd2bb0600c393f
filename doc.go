// Package memdb is an in-memory market data database.
//
// It holds the assets of a trading platform, their daily history and their
// real-time quotes, and serves them to concurrent readers without locking.
// Background jobs reload everything from the backing store, rebuild the
// daily history and poll quote providers at market-hours dependent rates.
//
// The state is a Generation: users, asset registry and time series built
// together and published with one atomic store. A reload builds the next
// generation off to the side; readers keep using the previous one until it
// is replaced.
package memdb
