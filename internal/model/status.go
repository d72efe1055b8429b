package model

// OrderStatus 订单状态机。
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"    // 已建单，等待支付
	StatusAuthorized OrderStatus = "authorized" // 卡预授权，尚未扣款
	StatusProcessing OrderStatus = "processing" // 支付成功，待发货
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusFailed     OrderStatus = "failed"
)

// 合法迁移表；不在表里的迁移一律拒绝。
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusAuthorized, StatusProcessing, StatusFailed, StatusCancelled},
	StatusAuthorized: {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// progress 是正向履约链上的先后顺序，failed/cancelled 不在链上。
var progress = map[OrderStatus]int{
	StatusPending:    0,
	StatusAuthorized: 1,
	StatusProcessing: 2,
	StatusShipped:    3,
	StatusDelivered:  4,
}

// ParseStatus 校验外部输入的状态值。
func ParseStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	switch st {
	case StatusPending, StatusAuthorized, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusFailed:
		return st, true
	}
	return "", false
}

func (s OrderStatus) String() string { return string(s) }

// Terminal 终态不允许任何迁移。
func (s OrderStatus) Terminal() bool {
	return s == StatusFailed || s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo 判断 s -> next 是否是状态机里的一条边。
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Reached 表示订单已经处于 target 或比 target 更靠后的状态。
// 重复投递的 webhook / 客户端重试据此判定为幂等空操作，且不会把订单往回拉。
func (s OrderStatus) Reached(target OrderStatus) bool {
	if s == target {
		return true
	}
	cur, ok1 := progress[s]
	want, ok2 := progress[target]
	return ok1 && ok2 && cur >= want
}
