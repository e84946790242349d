package executor

// resolveAlias maps a caller-facing name to its canonical fully-qualified
// name when one is configured. Unknown names pass
// through unchanged — they are assumed to already be fully qualified.
func resolveAlias(name string, aliases map[string]string) string {
	if fq, ok := aliases[name]; ok {
		return fq
	}
	return name
}
