package gateway

import "sync"

// SyncCoordinator owns the process-wide sync-required flag. The flag is set when
// the adapter reports its view of spendable state is stale and cleared only after
// a full-resync snapshot has been produced successfully.
type SyncCoordinator struct {
	mu       sync.Mutex
	required bool
}

func NewSyncCoordinator() *SyncCoordinator {
	return &SyncCoordinator{}
}

func (s *SyncCoordinator) Set() {
	s.mu.Lock()
	s.required = true
	s.mu.Unlock()
}

func (s *SyncCoordinator) Clear() {
	s.mu.Lock()
	s.required = false
	s.mu.Unlock()
}

func (s *SyncCoordinator) Required() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.required
}
