// Package bus carries inbound messages between the router and the
// completions gateway. The queue is process-local and bounded; delivery is
// deduplicated upstream by message id.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Conversation scopes.
const (
	ScopeDM      = "dm"
	ScopeChannel = "channel"
	ScopeThread  = "thread"
	ScopeGroup   = "group"
)

// Attachment bounds.
const (
	MaxAttachments     = 16
	MaxAttachmentBytes = 8 << 20
)

// Attachment is a bounded inbound file reference.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	Path        string `json:"path,omitempty"`
}

// Address identifies where a message came from.
type Address struct {
	Provider string `json:"provider"`
	Scope    string `json:"scope"` // dm | channel | thread | group
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// InboundMessage is one unit of untrusted input after router processing:
// Content already carries the external-content wrapper and canary.
type InboundMessage struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Address     Address      `json:"address"`
	Sender      string       `json:"sender"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	AgentID     string       `json:"agent_id,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
}

// Message states tracked by the queue.
const (
	StatusQueued    = "queued"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// ErrQueueFull is returned when the queue cannot accept another message.
var ErrQueueFull = errors.New("bus: inbound queue full")

// maxTracked bounds the per-message status records; once reached the oldest
// entries are evicted.
const maxTracked = 4096

// ValidateAttachments enforces the count and total-size bounds.
func ValidateAttachments(atts []Attachment) error {
	if len(atts) > MaxAttachments {
		return errors.New("bus: too many attachments")
	}
	var total int64
	for _, a := range atts {
		total += a.Size
	}
	if total > MaxAttachmentBytes {
		return errors.New("bus: attachments exceed total size limit")
	}
	return nil
}

// Queue is the bounded inbound message queue.
type Queue struct {
	ch chan *InboundMessage

	mu     sync.Mutex
	status map[string]string
	reason map[string]string
	order  []string // insertion order, for eviction
}

// NewQueue creates a queue with the given capacity (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan *InboundMessage, capacity),
		status: make(map[string]string),
		reason: make(map[string]string),
	}
}

// Enqueue adds a message without blocking.
func (q *Queue) Enqueue(msg *InboundMessage) error {
	select {
	case q.ch <- msg:
		q.setStatus(msg.ID, StatusQueued, "")
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks for the next message or context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-q.ch:
		q.setStatus(msg.ID, StatusDelivered, "")
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryDequeue returns the next message if one is immediately available.
func (q *Queue) TryDequeue() (*InboundMessage, bool) {
	select {
	case msg := <-q.ch:
		q.setStatus(msg.ID, StatusDelivered, "")
		return msg, true
	default:
		return nil, false
	}
}

// MarkFailed records that processing of a delivered message failed.
func (q *Queue) MarkFailed(messageID, reason string) {
	q.setStatus(messageID, StatusFailed, reason)
}

// Status returns the last known state of a message id.
func (q *Queue) Status(messageID string) (status, reason string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.status[messageID]
	return s, q.reason[messageID], ok
}

// Len reports the number of undelivered messages.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) setStatus(id, status, reason string) {
	q.mu.Lock()
	if _, tracked := q.status[id]; !tracked {
		q.order = append(q.order, id)
		for len(q.order) > maxTracked {
			old := q.order[0]
			q.order = q.order[1:]
			delete(q.status, old)
			delete(q.reason, old)
		}
	}
	q.status[id] = status
	if reason != "" {
		q.reason[id] = reason
	}
	q.mu.Unlock()
}
