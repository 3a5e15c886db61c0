package banlog

import (
	"sync"

	"github.com/iwanhae/tcp-guard/types"
)

const memoryCapacity = 4000

// Memory keeps the most recent block events in process memory.
type Memory struct {
	mu   sync.RWMutex
	bans []*types.Ban
}

func NewMemory() *Memory {
	return &Memory{bans: make([]*types.Ban, 0)}
}

func (s *Memory) Init() error {
	return nil
}

func (s *Memory) SaveBan(ban *types.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ban
	s.bans = append(s.bans, &cp)
	if len(s.bans) > memoryCapacity {
		s.bans = s.bans[len(s.bans)-memoryCapacity:]
	}
	return nil
}

func (s *Memory) ListBans(limit int) ([]*types.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.bans) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}
	out := make([]*types.Ban, len(s.bans)-start)
	copy(out, s.bans[start:])
	return out, nil
}

func (s *Memory) Close() error {
	return nil
}
