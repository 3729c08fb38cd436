package store

import (
	"os"
	"testing"
)

// TestMySQLStore runs the shared store contract against a real MySQL server.
// Set DEALGRAPH_MYSQL_DSN (e.g. "user:pass@tcp(localhost:3306)/dealgraph_test")
// to enable it; without a server the test skips.
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("DEALGRAPH_MYSQL_DSN")
	if dsn == "" {
		t.Skip("DEALGRAPH_MYSQL_DSN not set; skipping MySQL integration test")
	}

	st, err := NewMySQLStore[testState](dsn)
	if err != nil {
		t.Fatalf("open mysql store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	storeContract(t, st)
}
