package compliance

import "sync"

// keyedLocker serialises work per key within one process.
type keyedLocker struct {
	mutex sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mutex   sync.Mutex
	holders int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (locker *keyedLocker) Lock(key string) func() {
	locker.mutex.Lock()
	lock, ok := locker.locks[key]
	if !ok {
		lock = &keyedLock{}
		locker.locks[key] = lock
	}
	lock.holders++
	locker.mutex.Unlock()

	lock.mutex.Lock()
	return func() {
		lock.mutex.Unlock()
		locker.mutex.Lock()
		lock.holders--
		if lock.holders == 0 {
			delete(locker.locks, key)
		}
		locker.mutex.Unlock()
	}
}

func (locker *keyedLocker) size() int {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	return len(locker.locks)
}
