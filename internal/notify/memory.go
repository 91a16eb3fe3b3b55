package notify

import (
	"context"
	"sync"
)

// Memory is an in-process Notifier for tests and single-replica runs.
// Publishes reach only subscribers in the same process.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Notice
	nextID int
	closed bool
}

// NewMemory creates an in-process notifier.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]chan Notice)}
}

func streamKey(user, save string) string {
	return user + ":" + save
}

func (m *Memory) Publish(_ context.Context, user, save string, seq int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.subs[streamKey(user, save)] {
		select {
		case ch <- Notice{Seq: seq}:
		default:
			// Full buffer: drop. The subscriber drains the log on its
			// next notice, so nothing is lost.
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, user, save string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := streamKey(user, save)
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan Notice)
	}
	id := m.nextID
	m.nextID++

	ch := make(chan Notice, noticeBuffer)
	m.subs[key][id] = ch

	return &memorySub{notifier: m, key: key, id: id, ch: ch}, nil
}

// Close drops all subscriptions and closes their channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for key, subs := range m.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(m.subs, key)
	}
	return nil
}

type memorySub struct {
	notifier *Memory
	key      string
	id       int
	ch       chan Notice
	once     sync.Once
}

func (s *memorySub) Notices() <-chan Notice {
	return s.ch
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.notifier.mu.Lock()
		defer s.notifier.mu.Unlock()
		if subs, ok := s.notifier.subs[s.key]; ok {
			if _, live := subs[s.id]; live {
				delete(subs, s.id)
				close(s.ch)
				if len(subs) == 0 {
					delete(s.notifier.subs, s.key)
				}
			}
		}
	})
	return nil
}
