package dao

import "sync"

// Locker はキー単位の排他ロック
type Locker interface {
	// Lock はキーのロックを取得し、解放関数を返す
	Lock(key string) (unlock func())
}

// KeyedMutex はプロセス内でキーごとに排他するLocker
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	waiters int
}

// NewKeyedMutex はKeyedMutexを作成する
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.waiters++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			k.mu.Lock()
			l.waiters--
			if l.waiters == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}
