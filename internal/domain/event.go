package domain

import "time"

// StateTransitionEvent публикуется при каждом переходе заказа между состояниями.
type StateTransitionEvent struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"order_id"`
	OrderCode  string     `json:"order_code"`
	FromState  OrderState `json:"from_state"`
	ToState    OrderState `json:"to_state"`
	Order      Order      `json:"order"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// TransitionFilter отбирает события переходов. Пустой список означает «любое состояние».
type TransitionFilter struct {
	From []OrderState
	To   []OrderState
}

// Matches проверяет, подходит ли событие под фильтр.
func (f TransitionFilter) Matches(event StateTransitionEvent) bool {
	return stateIn(f.From, event.FromState) && stateIn(f.To, event.ToState)
}

func stateIn(states []OrderState, state OrderState) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
