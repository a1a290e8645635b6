//go:build lockdebug

package lock

func init() {
	deadlockDetection = true
}
