// Package limiter gates stream creation on the peer's
// SETTINGS_MAX_CONCURRENT_STREAMS value.
package limiter

// Limiter admits at most quota streams at a time. A zero quota means
// unlimited.
type Limiter interface {
	WaitAllow()
	Release()
}

func New(quota uint32) Limiter {
	if quota == 0 {
		return noopLimiter{}
	}
	return newLimiter(quota)
}

type noopLimiter struct{}

func (noopLimiter) WaitAllow() {}
func (noopLimiter) Release()   {}
