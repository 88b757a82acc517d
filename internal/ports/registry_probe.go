package ports

// RegistryProbePort answers whether a captured uninstall key still exists.
type RegistryProbePort interface {
	KeyExists(keyPath string) bool
}
