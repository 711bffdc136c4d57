package engine

import (
	"context"
	"time"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/decision"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/decision/postgres"
)

// decisionRepo connects the relational decision store with a bounded
// startup deadline.
func decisionRepo(dsn string) (decision.Log, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return postgres.Connect(ctx, dsn)
}
