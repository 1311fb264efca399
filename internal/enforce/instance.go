package enforce

import (
	"math/rand/v2"
	"strconv"
)

// newInstanceID draws the per-process id. The multiplier range [1, 2)
// places the value in [2^28, 2^29), which the reporting backend expects.
func newInstanceID() string {
	return instanceIDFrom(1 + rand.Float64())
}

func instanceIDFrom(multiplier float64) string {
	return strconv.FormatInt(int64(268435456*multiplier), 36)
}
