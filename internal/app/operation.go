package app

// CycleOperation tracks a CLI operation that may mutate the index.
// Operations are created in memory with ID=0. Only index-mutating
// commands persist them (giving them an auto-increment ID from the
// scan_cycles table).
type CycleOperation struct {
	ID        int64
	Operation string
	Status    string // "success" or "failed"

	Scanned  int64
	Ingested int64
	Failed   int64
}

// NewCycleOperation creates a new in-memory cycle operation.
func NewCycleOperation(operation string) *CycleOperation {
	return &CycleOperation{
		Operation: operation,
		Status:    "success",
	}
}

// Persisted returns true if this operation has been saved to the index.
func (op *CycleOperation) Persisted() bool {
	return op.ID != 0
}
