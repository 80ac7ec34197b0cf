// black box testing of labeled PSI sessions
package psi_test

type test_size struct {
	scenario                          string
	commonLen, senderLen, receiverLen int
}

// test scenarios
// the common part will be subtracted from the sender &
// the receiver len, so for instance
//
//	100 common, 100 sender will result in the sender len being 100 and only
//	composed of the common part
var test_sizes = []test_size{
	{"sender100receiver200", 100, 100, 200},
	{"emptySenderSize", 0, 0, 1000},
	{"emptyReceiverSize", 0, 1000, 0},
	{"sameSize", 100, 100, 100},
	{"smallSize", 100, 10000, 1000},
	{"mediumSize", 1000, 100000, 10000},
	{"bigSize", 10000, 100000, 100000},
}

// long scenarios are skipped with -short
var long_scenarios = map[string]bool{
	"mediumSize": true,
	"bigSize":    true,
}

// paramsJSON holds a table large enough for the biggest scenario
const paramsJSON = `{
    "table_params": {
        "hash_func_count": 3,
        "table_size": 262144,
        "max_items_per_bin": 64
    },
    "item_params": {
        "felts_per_item": 8
    },
    "query_params": {
        "ps_low_degree": 0,
        "query_powers": [ 1, 3, 4, 5, 8, 14, 20, 26, 32, 38, 41, 42, 43, 45, 46 ]
    },
    "seal_params": {
        "plain_modulus": 65537,
        "poly_modulus_degree": 8192,
        "coeff_modulus_bits": [ 56, 56, 56, 50 ]
    }
}`

// bloomParamsJSON is paramsJSON with the bloomfilter result encoding
const bloomParamsJSON = `{
    "table_params": {
        "hash_func_count": 3,
        "table_size": 16384,
        "max_items_per_bin": 64,
        "location_hash": "murmur3"
    },
    "item_params": {
        "felts_per_item": 8
    },
    "query_params": {
        "ps_low_degree": 0,
        "query_powers": [ 1, 3, 4, 5 ]
    },
    "seal_params": {
        "plain_modulus": 65537,
        "poly_modulus_degree": 8192,
        "coeff_modulus_bits": [ 56, 56, 56, 50 ]
    },
    "result_params": {
        "encoding": "bloom"
    }
}`
