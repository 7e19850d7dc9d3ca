package identity

import (
	"sync"

	"github.com/hitoshi/expensetracker/internal/model"
)

// mailbox はリスナーごとの順序付き配送キュー。
// postはブロックせず、専用goroutineが投函順にリスナーを呼び出す。
type mailbox struct {
	listener SessionListener

	mu     sync.Mutex
	queue  []*model.Session
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newMailbox(listener SessionListener) *mailbox {
	m := &mailbox{
		listener: listener,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

// post はセッション値をキューに追加する。close後は破棄する。
func (m *mailbox) post(session *model.Session) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, session)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// close は配送を停止する。複数回呼んでも安全。
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.done)
}

func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}

		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			next := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			m.listener(next)
		}
	}
}
