// Package fixtures holds parameter documents shared by the tests.
package fixtures

import (
	"testing"

	"github.com/optable/apsi/pkg/params"
)

// ParamsJSON is the small reference parameter set.
// The whole table fits in one bundle.
const ParamsJSON = `{
    "table_params": {
        "hash_func_count": 3,
        "table_size": 512,
        "max_items_per_bin": 92
    },
    "item_params": {
        "felts_per_item": 8
    },
    "query_params": {
        "ps_low_degree": 0,
        "query_powers": [ 1, 3, 4, 5, 8, 14, 20, 26, 32, 38, 41, 42, 43, 45, 46 ]
    },
    "seal_params": {
        "plain_modulus": 40961,
        "poly_modulus_degree": 4096,
        "coeff_modulus_bits": [ 40, 32, 32, 40 ]
    }
}`

// MultiBundleJSON partitions a 1024 location table in 8 bundles and
// keeps bins tiny so bin bundles overflow into several partitions.
const MultiBundleJSON = `{
    "table_params": {
        "hash_func_count": 3,
        "table_size": 1024,
        "max_items_per_bin": 2,
        "location_hash": "murmur3"
    },
    "item_params": {
        "felts_per_item": 8
    },
    "query_params": {
        "ps_low_degree": 0,
        "query_powers": [ 1, 3, 5 ]
    },
    "seal_params": {
        "plain_modulus_bits": 20,
        "poly_modulus_degree": 1024,
        "coeff_modulus_bits": [ 30, 30 ]
    },
    "oprf_params": {
        "group": "go-ristretto"
    }
}`

// BloomJSON uses the bloomfilter result encoding
const BloomJSON = `{
    "table_params": {
        "hash_func_count": 3,
        "table_size": 1024,
        "max_items_per_bin": 16,
        "location_hash": "metro"
    },
    "item_params": {
        "felts_per_item": 4
    },
    "query_params": {
        "ps_low_degree": 0,
        "query_powers": [ 1, 2 ]
    },
    "seal_params": {
        "plain_modulus": 65537,
        "poly_modulus_degree": 256,
        "coeff_modulus_bits": [ 30, 30 ]
    },
    "result_params": {
        "encoding": "bloom",
        "false_positive_rate": 1e-9
    }
}`

// Params loads ParamsJSON and fails the test on error
func Params(t testing.TB) *params.PSIParams {
	return Load(t, ParamsJSON)
}

// Load parses a parameter document and fails the test on error
func Load(t testing.TB, doc string) *params.PSIParams {
	t.Helper()
	p, err := params.Load([]byte(doc))
	if err != nil {
		t.Fatalf("could not load parameters: %v", err)
	}
	return p
}

// SenderSet is the sender data set of the reference scenario
var SenderSet = []string{"Alice", "Bob", "Charlie", "Daniel", "Eve", "Fazila", "Gilbert"}

// ReceiverSet is the receiver query of the reference scenario
var ReceiverSet = []string{"Amir", "Charlie", "Danny", "Eve"}

// ReceiverVerdicts are the expected verdicts of ReceiverSet against SenderSet
var ReceiverVerdicts = []bool{false, true, false, true}
