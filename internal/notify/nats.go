package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS binds the Notifier contract to a NATS server, for deployments
// already running one instead of redis.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: nats connect: %w", err)
	}
	return &NATS{conn: conn}, nil
}

// natsSubject maps a stream key onto a subject. '.' is the NATS token
// separator and '*'/'>' are wildcards, so those are replaced; a collision
// only means a session drains its log on someone else's notice, which is
// harmless.
func natsSubject(user, save string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return "relay.notify." + r.Replace(user) + "." + r.Replace(save)
}

func (n *NATS) Publish(_ context.Context, user, save string, seq int64) error {
	err := n.conn.Publish(natsSubject(user, save), []byte(strconv.FormatInt(seq, 10)))
	if err != nil {
		return fmt.Errorf("notify: nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(_ context.Context, user, save string) (Subscription, error) {
	s := &natsSub{out: make(chan Notice, noticeBuffer)}

	sub, err := n.conn.Subscribe(natsSubject(user, save), func(msg *nats.Msg) {
		seq, err := strconv.ParseInt(string(msg.Data), 10, 64)
		if err != nil {
			return
		}
		s.mu.Lock()
		if !s.closed {
			select {
			case s.out <- Notice{Seq: seq}:
			default:
			}
		}
		s.mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("notify: nats subscribe: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

type natsSub struct {
	sub    *nats.Subscription
	out    chan Notice
	mu     sync.Mutex
	closed bool
}

func (s *natsSub) Notices() <-chan Notice {
	return s.out
}

func (s *natsSub) Close() error {
	err := s.sub.Unsubscribe()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	s.mu.Unlock()
	return err
}
