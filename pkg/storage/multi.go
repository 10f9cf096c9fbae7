package storage

import (
	"bytes"
	"context"
	"sync"
)

// MultiStoreUnit is used to specify multiple write targets, some of
// which are tolerated to fail.
type MultiStoreUnit struct {
	// Store is the backend to be written
	Store Store

	// TolerateFailure set to false breaks the multi-store operation
	// whenever this backend reports an error
	TolerateFailure bool
}

// MultiPut duplicates a write to an array of stores, under the same key.
func MultiPut(ctx context.Context, stores []MultiStoreUnit, key string, buffer []byte) error {
	errC := make(chan error, len(stores))
	var wg sync.WaitGroup

	for _, w := range stores {
		wg.Add(1)
		go func(w MultiStoreUnit) {
			defer wg.Done()

			err := w.Store.Put(ctx, key, bytes.NewReader(buffer))
			if w.TolerateFailure {
				return
			}
			if err != nil {
				errC <- err
			}
		}(w)
	}
	wg.Wait()
	select {
	case err := <-errC:
		return err
	default:
		return nil
	}
}
