package usecase

import (
	"github.com/roach88/positions/internal/batch"
	"github.com/roach88/positions/internal/testutil"
)

func batchIDs() batch.ImporterOption {
	return batch.WithIDGenerator(testutil.NewSequentialIDs(""))
}
