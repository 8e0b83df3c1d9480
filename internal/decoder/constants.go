package decoder

// DefaultMaxDepth is the deepest nesting of maps and arrays a decoder will follow.
const DefaultMaxDepth = 512

// Size escapes in the low five bits of the control byte. Each escape reads
// one more byte of size and adds the matching bias.
const (
	sizeEscape1 = 29
	sizeEscape2 = 30
	sizeEscape3 = 31

	sizeBias1 = 29
	sizeBias2 = 285
	sizeBias3 = 65821
)

// extendedTypeBias is added to the byte following an extended control byte.
const extendedTypeBias = 7

// Pointer biases by payload length. A four byte pointer carries no bias.
var pointerBias = [5]uint64{0, 0, 2048, 526336, 0}

// Smallest encoded sizes used to reject impossible container counts:
// every element costs at least its control byte, and a map pair holds two.
const (
	minArrayMemberSize = 1
	minMapPairSize     = 2
)
