package quality

import "fmt"

// panicError turns a recovered panic value into an error so that a
// misbehaving evaluator or verification function degrades to a failed
// metric instead of taking down the caller.
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
