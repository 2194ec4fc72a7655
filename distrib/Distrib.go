// Package distrib defines the primitives the training loop uses to
// coordinate a group of SPMD workers: a post-step barrier, a gradient
// and statistics all-reduce, and a blocking key/value rendezvous where
// exactly one worker produces a value and all others wait for it.
//
// Production transports (NCCL, MPI, a TCP store) live outside this
// repository and plug in behind these interfaces; the Local*
// implementations in this package back tests and single-machine runs.
package distrib

import "errors"

// ErrTimeout reports that a blocking coordination call exceeded its
// configured timeout. A stalled worker stalls the whole group at its
// next barrier, so a timeout usually indicates a dead peer.
var ErrTimeout = errors.New("distrib: timed out waiting for workers")

// Barrier blocks each caller until every worker in the group has
// arrived.
type Barrier interface {
	Wait() error
}

// AllReducer sums a vector elementwise across all workers, in place.
// Every worker must call AllReduce with a vector of the same length;
// on return each worker holds the group-wide sum.
type AllReducer interface {
	AllReduce(x []float64) error
}

// KVStore is the rendezvous handshake used to distribute one-time
// values such as the dataset file list and the resume checkpoint path.
// By convention exactly one worker calls Set for a given key; all
// others call Wait and then Get.
type KVStore interface {
	Set(key, value string) error

	// Get returns the value for a key. A missing key is an error.
	Get(key string) (string, error)

	// Wait blocks until the key has been published.
	Wait(key string) error
}
