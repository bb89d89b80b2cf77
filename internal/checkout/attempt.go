package checkout

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storefront/internal/model"
)

// allowedTransitions はチェックアウト試行の状態遷移表。
// Failed と Completed は終端で、再試行は新しい Attempt で行う。
var allowedTransitions = map[model.CheckoutState][]model.CheckoutState{
	model.CheckoutStateIdle:              {model.CheckoutStateOrderCreating},
	model.CheckoutStateOrderCreating:     {model.CheckoutStatePaymentConfirming, model.CheckoutStateFailed},
	model.CheckoutStatePaymentConfirming: {model.CheckoutStateCompleted, model.CheckoutStateFailed},
}

// Transition は状態遷移の記録。
type Transition struct {
	From model.CheckoutState
	To   model.CheckoutState
	At   time.Time
}

// Attempt は1回のチェックアウト試行。
type Attempt struct {
	ID string

	mu      sync.Mutex
	state   model.CheckoutState
	order   *model.Order
	err     error
	history []Transition
	now     func() time.Time
}

func newAttempt(now func() time.Time) *Attempt {
	return &Attempt{
		ID:    uuid.NewString(),
		state: model.CheckoutStateIdle,
		now:   now,
	}
}

// State は現在の状態を返す。
func (a *Attempt) State() model.CheckoutState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Order は試行で作成された注文を返す。未作成の場合はnil。
func (a *Attempt) Order() *model.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.order == nil {
		return nil
	}
	o := *a.order
	return &o
}

// Err は試行が失敗した原因を返す。
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// History は状態遷移の履歴を返す。
func (a *Attempt) History() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transition(nil), a.history...)
}

// transition は遷移表に従って状態を進める。
func (a *Attempt) transition(to model.CheckoutState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transitionLocked(to)
}

func (a *Attempt) transitionLocked(to model.CheckoutState) error {
	for _, allowed := range allowedTransitions[a.state] {
		if allowed == to {
			a.history = append(a.history, Transition{From: a.state, To: to, At: a.now()})
			a.state = to
			return nil
		}
	}
	return model.NewInvalidTransitionError(string(a.state), string(to))
}

// fail は試行を失敗状態にし、原因を記録する。終端状態からは変化しない。
func (a *Attempt) fail(cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.IsTerminal() {
		return
	}
	if a.transitionLocked(model.CheckoutStateFailed) == nil {
		a.err = cause
	}
}

func (a *Attempt) setOrder(o model.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = &o
}
