package model

// SubscriptionReason 订阅原因，数值越小优先级越高
type SubscriptionReason int

const (
	ReasonNone      SubscriptionReason = 0
	ReasonPoster    SubscriptionReason = 1
	ReasonCommenter SubscriptionReason = 2
	ReasonTagee     SubscriptionReason = 3
)

func (r SubscriptionReason) Valid() bool {
	return r >= ReasonPoster && r <= ReasonTagee
}

func (r SubscriptionReason) String() string {
	switch r {
	case ReasonPoster:
		return "poster"
	case ReasonCommenter:
		return "commenter"
	case ReasonTagee:
		return "tagee"
	}
	return "none"
}
