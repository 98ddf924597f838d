//go:build !linux

package ringchan

func newNotifier() notifier {
	return newStubNotifier()
}
