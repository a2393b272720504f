/*
 * @Description: 按键加锁，草稿日志按用户文件串行写入
 * @Author: 安知鱼
 * @Date: 2025-07-14 01:41:43
 * @LastEditTime: 2026-02-17 10:02:18
 * @LastEditors: 安知鱼
 */
package utility

import "sync"

// PathLocker 提供了一个基于字符串键（例如，文件路径）的锁机制。
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewPathLocker 创建一个新的 PathLocker 实例。
func NewPathLocker() *PathLocker {
	return &PathLocker{
		locks: make(map[string]*lockEntry),
	}
}

// Lock 为给定的路径获取一个锁，同一路径的持有者释放前会阻塞。
func (l *PathLocker) Lock(path string) {
	l.mu.Lock()
	entry, ok := l.locks[path]
	if !ok {
		entry = &lockEntry{}
		l.locks[path] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock 释放给定路径的锁，没有等待者时回收该路径的锁对象。
func (l *PathLocker) Unlock(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[path]
	if !ok {
		return
	}
	entry.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, path)
	}
}
