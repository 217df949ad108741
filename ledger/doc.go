// Package ledger provides at-most-one-successful-execution semantics per
// work-unit key on top of a conditional key-value store.
//
// Every transition is a single conditional write in the backing Store:
//
//	NONE ──claim──▶ IN_PROGRESS ──complete──▶ DONE
//	                  │    ▲
//	                fail   └── claim (FAILED, or lease expired)
//	                  ▼
//	                FAILED
//
// DONE is terminal. Entries are never deleted by the pipeline; a store may
// drop them once their retention (purge_at) passes.
package ledger
