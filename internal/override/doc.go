// Package override validates and merges upgrade-time configuration overrides.
//
// Valid values are described by a CUE schema with two definitions:
//
//	#Overrides: {          // closed; every field optional
//	    min_confirmations?: int & >=1
//	    ...
//	}
//	#Config: {             // closed; every field required
//	    ...
//	    kyt_fee: int & <retrieve_btc_min_amount
//	}
//
// Each field of #Overrides is a recognized key and its constraint is the
// key's valid-value predicate. #Config holds the predicates that span
// several keys and is checked against the merged result.
//
// Merging is total-replace-per-key: an override replaces the whole default
// value of its key, omitted keys keep their defaults, and nested values are
// never merged field by field.
package override
