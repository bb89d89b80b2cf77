// Package notify は表示側（CLI・ビューサーバー）への変更通知を提供する。
package notify

import (
	"sync"
	"time"
)

// Topic は通知の種類。
type Topic string

const (
	// TopicSession はログイン・ログアウトによるセッション変化。
	TopicSession Topic = "session"
	// TopicCart はカートキャッシュの更新。
	TopicCart Topic = "cart"
	// TopicOrder はチェックアウトの完了。
	TopicOrder Topic = "order"
)

// Event は購読者に配信される変更通知。
// 購読者は通知を受けたら最新状態を読み直す。Dataは表示用の要約のみを持つ。
type Event struct {
	Topic Topic          `json:"topic"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Publisher はイベントを発行するインターフェース。
type Publisher interface {
	Publish(ev Event)
}

// DefaultBuffer は購読チャネルのバッファサイズ。
const DefaultBuffer = 16

// Hub はイベントを全購読者へ配信する。
// Publishはブロックせず、バッファが埋まった購読者への通知は破棄する。
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
	now    func() time.Time
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		buffer: DefaultBuffer,
		now:    time.Now,
	}
}

// Subscribe は購読を開始し、受信チャネルと解除関数を返す。
// 解除関数は複数回呼んでもよい。解除後にチャネルはクローズされる。
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish はイベントを配信する。Atが未設定の場合は現在時刻を設定する。
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers は現在の購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Nop は何もしないPublisher。
type Nop struct{}

// Publish は何もしない。
func (Nop) Publish(Event) {}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = Nop{}
)
