package mongostore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/store/storetest"
	"go.uber.org/zap"
)

// Runs only when MONGO_TEST_URI points at a disposable server.
func TestStore(t *testing.T) {
	uri := strings.TrimSpace(os.Getenv("MONGO_TEST_URI"))
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T) domain.Store {
		name := "cardreport_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
		db := client.Database(name)
		t.Cleanup(func() { _ = db.Drop(context.Background()) })
		return New(db, "", zap.NewNop())
	})
}
