//go:build !darwin

package permissions

// EnsurePermissions is a no-op on non-macOS platforms; capture access is
// governed by the audio server there.
func EnsurePermissions() error {
	return nil
}
