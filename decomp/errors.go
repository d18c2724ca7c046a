package decomp

import "github.com/notargets/snacdecomp/utils"

// Error classes, shared with every other package of the module
var (
	ErrConfig      = utils.ErrConfig
	ErrNegotiation = utils.ErrNegotiation
	ErrNumerical   = utils.ErrNumerical
)

// Invalid is returned by the *ToGlobal mappings for an index out of range,
// and marks absent entries in adjacency lists and transfer mappings.
const Invalid = -1
