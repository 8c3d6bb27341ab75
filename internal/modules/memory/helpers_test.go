package memory_test

import (
	"context"

	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
)

func dbcNone() dbctx.Context { return dbctx.New(context.Background()) }
