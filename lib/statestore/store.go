package statestore

import (
	"context"
	"encoding/json"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

// StateStore keeps JSON encoded values of type T in a datastore, one key per value
type StateStore[T any] struct {
	ds datastore.Datastore
}

func New[T any](ds datastore.Datastore) *StateStore[T] {
	return &StateStore[T]{ds: ds}
}

func toKey(k string) datastore.Key {
	return datastore.NewKey(k)
}

// Begin starts tracking a new value; it fails if the key is already tracked
func (st *StateStore[T]) Begin(ctx context.Context, k string, state *T) error {
	has, err := st.ds.Has(ctx, toKey(k))
	if err != nil {
		return err
	}
	if has {
		return xerrors.Errorf("already tracking state for %s", k)
	}
	return st.Put(ctx, k, state)
}

// Encode returns the bytes a StateStore keeps for state
func Encode[T any](state *T) ([]byte, error) {
	return json.Marshal(state)
}

// Put writes a value, replacing any previous one
func (st *StateStore[T]) Put(ctx context.Context, k string, state *T) error {
	b, err := Encode(state)
	if err != nil {
		return xerrors.Errorf("encoding state for %s: %w", k, err)
	}
	return st.ds.Put(ctx, toKey(k), b)
}

// End stops tracking a value
func (st *StateStore[T]) End(ctx context.Context, k string) error {
	has, err := st.ds.Has(ctx, toKey(k))
	if err != nil {
		return err
	}
	if !has {
		return xerrors.Errorf("no state for %s", k)
	}
	return st.ds.Delete(ctx, toKey(k))
}

// Mutate reads a value, applies mutator and writes it back. A mutator error
// aborts the write.
func (st *StateStore[T]) Mutate(ctx context.Context, k string, mutator func(*T) error) error {
	state, err := st.Get(ctx, k)
	if err != nil {
		return err
	}
	if err := mutator(state); err != nil {
		return err
	}
	return st.Put(ctx, k, state)
}

func (st *StateStore[T]) Has(ctx context.Context, k string) (bool, error) {
	return st.ds.Has(ctx, toKey(k))
}

// Get returns the value for k. Missing keys wrap datastore.ErrNotFound.
func (st *StateStore[T]) Get(ctx context.Context, k string) (*T, error) {
	val, err := st.ds.Get(ctx, toKey(k))
	if err != nil {
		if xerrors.Is(err, datastore.ErrNotFound) {
			return nil, xerrors.Errorf("no state for %s: %w", k, err)
		}
		return nil, err
	}

	var out T
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, xerrors.Errorf("decoding state for %s: %w", k, err)
	}
	return &out, nil
}

// List decodes every tracked value. Values that fail to decode are skipped and
// reported together in the returned error.
func (st *StateStore[T]) List(ctx context.Context) ([]T, error) {
	res, err := st.ds.Query(ctx, query.Query{})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	var (
		out  []T
		errs error
	)
	for {
		res, ok := res.NextSync()
		if !ok {
			break
		}
		if res.Error != nil {
			return nil, res.Error
		}

		var elem T
		if err := json.Unmarshal(res.Value, &elem); err != nil {
			errs = multierr.Append(errs, xerrors.Errorf("decoding state for key '%s': %w", res.Key, err))
			continue
		}
		out = append(out, elem)
	}

	return out, errs
}
