package enums

// DeliveryResult records what the receiver did with one webhook delivery.
type DeliveryResult string

const (
	DeliveryResultAccepted         DeliveryResult = "accepted"
	DeliveryResultIgnoredDuplicate DeliveryResult = "ignored_duplicate"
)

var validDeliveryResults = []DeliveryResult{
	DeliveryResultAccepted,
	DeliveryResultIgnoredDuplicate,
}

func (v DeliveryResult) IsValid() bool {
	for _, candidate := range validDeliveryResults {
		if candidate == v {
			return true
		}
	}
	return false
}
