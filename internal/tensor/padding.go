package tensor

import "fmt"

// Padding selects how spatial windows treat the borders of their input.
type Padding int

const (
	// PaddingValid only places windows fully inside the input.
	PaddingValid Padding = iota
	// PaddingSame pads so that out = ceil(in / stride). When the total pad is
	// odd the extra row/column goes after the input (bottom/right).
	PaddingSame
)

// String returns "valid" or "same".
func (p Padding) String() string {
	switch p {
	case PaddingValid:
		return "valid"
	case PaddingSame:
		return "same"
	default:
		return fmt.Sprintf("Padding(%d)", int(p))
	}
}

// Window returns the output length of a sliding window over one spatial
// dimension and the number of padded positions placed before the input.
func (p Padding) Window(in, kernel, stride int) (out, before int) {
	if p == PaddingSame {
		out = (in + stride - 1) / stride
		total := max((out-1)*stride+kernel-in, 0)
		return out, total / 2
	}
	return (in-kernel)/stride + 1, 0
}
