package service

import "context"

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Sources() SourceRepositoryInterface
	Chunks() ChunkRepositoryInterface
	IndexJobs() IndexJobRepositoryInterface
	Assumptions() AssumptionRepositoryInterface
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
