package gateway

import "net/http"

// BuildEngineForTest exposes buildEngine to the package's black-box tests.
func BuildEngineForTest(sdls, hosts map[string]string, httpClient *http.Client) (*executionEngine, error) {
	return buildEngine(sdls, hosts, httpClient)
}

// CopyMapForTest exposes copyMap to the package's black-box tests.
func CopyMapForTest(m map[string]string) map[string]string {
	return copyMap(m)
}

// SchemaVersionForTest exposes schemaVersion to the package's black-box tests.
func SchemaVersionForTest(sdls map[string]string) uint64 {
	return schemaVersion(sdls)
}
