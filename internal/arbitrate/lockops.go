// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package arbitrate

import "sync"

// LockOps serialize the users of one physical bus. Every adapter on a bus
// shares the same mutex.
type LockOps interface {
	Lock()
	TryLock() bool
	Unlock()
}

// NewLockOps returns lock operations over mu that obtain and release a when
// a isn't nil.
func NewLockOps(mu *sync.Mutex, a *Arbitrator) LockOps {
	if a == nil {
		return noarb{mu}
	}
	return &arb{mu, a}
}

// Arbitrated returns the arbitrator of ops, if any.
func Arbitrated(ops LockOps) *Arbitrator {
	if p, ok := ops.(*arb); ok {
		return p.a
	}
	return nil
}

type arb struct {
	mu *sync.Mutex
	a  *Arbitrator
}

func (l *arb) Lock() {
	l.mu.Lock()
	l.a.Obtain()
}

func (l *arb) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	l.a.Obtain()
	return true
}

func (l *arb) Unlock() {
	l.a.Release()
	l.mu.Unlock()
}

type noarb struct{ mu *sync.Mutex }

func (l noarb) Lock()         { l.mu.Lock() }
func (l noarb) TryLock() bool { return l.mu.TryLock() }
func (l noarb) Unlock()       { l.mu.Unlock() }
