package db

import "sync"

// SQLiteWriteMutex serializes writes against the runs/service_info tables.
//
// SQLite allows exactly one writer at a time even under WAL. The admission
// controller, the tracker's state/log mirrors, and service-info updates all
// write from independent goroutines; every one of them MUST hold this lock
// around its write, or concurrent writers race into SQLITE_BUSY instead of
// queuing behind PRAGMA busy_timeout. The lock is process-local: writers in
// other processes sharing the same file are not serialized by it.
//
// Usage:
//
//	db.SQLiteWriteMutex.Lock()
//	defer db.SQLiteWriteMutex.Unlock()
//	// ... perform database write operation ...
var SQLiteWriteMutex sync.Mutex
