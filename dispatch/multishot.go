package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aschepis/switchboard/backend"
)

// MultiShot sends the same request to every listed variant in parallel and
// returns the responses keyed by variant id. The calls are independent: one
// variant failing or timing out does not affect the others, and failures
// appear as error responses under their key.
//
// All outcomes are recorded against a shared comparison experiment covering
// exactly this variant set, created on first use and reused on subsequent
// calls with the same set.
func (d *Dispatcher) MultiShot(ctx context.Context, req *backend.Request, variantIDs []string, opts Options) (map[string]*backend.Response, error) {
	comparison, err := d.tracker.GetOrCreateComparison(variantIDs)
	if err != nil {
		return nil, err
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	results := make(map[string]*backend.Response, len(variantIDs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, variantID := range variantIDs {
		wg.Add(1)
		go func(variantID string) {
			defer wg.Done()

			resp := d.attempt(ctx, req, variantID, requestID, opts)
			d.record(comparison.ID, variantID, requestID, resp)

			mu.Lock()
			results[variantID] = resp
			mu.Unlock()
		}(variantID)
	}
	wg.Wait()

	return results, nil
}
