package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errNotVisible = errors.New("upload not visible yet")

// AwaitConfirmation polls probe with exponential backoff until it reports
// the upload visible or the budget runs out. The return value is whether
// the upload was positively confirmed; running out of budget is NOT a
// failure. The caller treats "unknown" as delivered, it only loses the
// confirmation log line.
func AwaitConfirmation(ctx context.Context, budget time.Duration, probe func(context.Context) (bool, error)) bool {
	if probe == nil || budget <= 0 {
		return false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = budget

	err := backoff.Retry(func() error {
		ok, err := probe(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errNotVisible
		}
		return nil
	}, backoff.WithContext(b, ctx))

	return err == nil
}
