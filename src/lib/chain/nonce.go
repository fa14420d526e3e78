package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceLocker serializes nonce read, sign and send per signer address.
type NonceLocker interface {
	Lock(ctx context.Context, addr common.Address) (unlock func(), err error)
}

// LocalNonceLocker serializes submissions within one process.
type LocalNonceLocker struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

func NewLocalNonceLocker() *LocalNonceLocker {
	return &LocalNonceLocker{slots: make(map[common.Address]chan struct{})}
}

func (l *LocalNonceLocker) slot(addr common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[addr]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[addr] = ch
	}
	return ch
}

func (l *LocalNonceLocker) Lock(ctx context.Context, addr common.Address) (func(), error) {
	ch := l.slot(addr)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
