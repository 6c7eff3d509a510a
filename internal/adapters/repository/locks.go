package repository

import (
	"sync"

	"github.com/okian/assay/internal/domain/model"
)

// poolLocks hands out one mutex per pool key.
type poolLocks struct {
	mu    sync.Mutex
	locks map[model.PoolKey]*sync.Mutex
}

func newPoolLocks() *poolLocks {
	return &poolLocks{locks: make(map[model.PoolKey]*sync.Mutex)}
}

func (p *poolLocks) get(key model.PoolKey) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}
