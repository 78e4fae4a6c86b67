package order

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls how failed submissions are retried
type Policy struct {
	MaxAttempts int           // total submissions, first attempt included
	Delay       time.Duration // fixed wait between attempts
	VerifyDelay time.Duration // wait before re-checking a close-all
}

// DefaultPolicy is five attempts a minute apart, close-all verified after 5s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Delay:       60 * time.Second,
		VerifyDelay: 5 * time.Second,
	}
}

// newBackOff yields Delay exactly MaxAttempts-1 times, then backoff.Stop
func (p Policy) newBackOff() backoff.BackOff {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(retries))
}
