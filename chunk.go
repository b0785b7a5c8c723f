package main

// chunkSize is the number of transactions per classification request. Fixed:
// sized to keep one oracle response comfortably inside its token budget.
const chunkSize = 26

// Chunk is one fixed-size batch of transactions. Start/End are absolute
// offsets into the original sequence.
type Chunk struct {
	Number int
	Txns   []Txn
	Start  int
	End    int
}

// chunkTxns partitions txns into order-preserving chunks of the given size.
// The final chunk may be smaller.
func chunkTxns(txns []Txn, size int) []Chunk {
	if size <= 0 {
		size = chunkSize
	}
	var chunks []Chunk
	for i := 0; i < len(txns); i += size {
		end := min(i+size, len(txns))
		chunks = append(chunks, Chunk{
			Number: len(chunks) + 1,
			Txns:   txns[i:end],
			Start:  i,
			End:    end,
		})
	}
	return chunks
}
