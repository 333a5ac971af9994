package effect

import "fmt"

// Kind tags an effect variant.
type Kind uint8

const (
	KindDeposit Kind = iota + 1
	KindWithdraw
	KindTransfer
	KindObserve
	KindAcquireResource
	KindInvoke
)

// Kinds lists every variant in declaration order.
var Kinds = []Kind{
	KindDeposit,
	KindWithdraw,
	KindTransfer,
	KindObserve,
	KindAcquireResource,
	KindInvoke,
}

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdraw:
		return "Withdraw"
	case KindTransfer:
		return "Transfer"
	case KindObserve:
		return "Observe"
	case KindAcquireResource:
		return "AcquireResource"
	case KindInvoke:
		return "Invoke"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown effect kind %q", ErrInvalidEffect, s)
}

// defaultCapability is the token every effect of kind k requires.
func defaultCapability(k Kind) Capability {
	switch k {
	case KindDeposit:
		return "ledger.deposit"
	case KindWithdraw:
		return "ledger.withdraw"
	case KindTransfer:
		return "ledger.transfer"
	case KindObserve:
		return "state.observe"
	case KindAcquireResource:
		return "resource.acquire"
	case KindInvoke:
		return "invoke"
	default:
		panic("exhaustive match")
	}
}
