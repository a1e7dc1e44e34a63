// Test to demonstrate sequence number mismatch between Count() and actual applied operations
package batch

import (
	"testing"
)

// TestSequenceConsumption verifies that Count() matches the number of sequence-consuming operations.
// This is critical for correctness: WAL recovery advances db.seq by Count(), so Count() must accurately
// reflect the number of operations that will consume sequences when applied to memtable.
func TestSequenceConsumption(t *testing.T) {
	tests := []struct {
		name           string
		setupBatch     func(*WriteBatch)
		expectedCount  uint32
		expectedSeqOps uint32 // number of operations that consume sequences
	}{
		{
			name: "simple put operations",
			setupBatch: func(wb *WriteBatch) {
				wb.Put([]byte("key1"), []byte("val1"))
				wb.Put([]byte("key2"), []byte("val2"))
				wb.Put([]byte("key3"), []byte("val3"))
			},
			expectedCount:  3,
			expectedSeqOps: 3,
		},
		{
			name: "mixed operations",
			setupBatch: func(wb *WriteBatch) {
				wb.Put([]byte("key1"), []byte("val1"))
				wb.Delete([]byte("key2"))
				wb.Put([]byte("key3"), []byte("val3"))
			},
			expectedCount:  3,
			expectedSeqOps: 3,
		},
		{
			name: "delete then put",
			setupBatch: func(wb *WriteBatch) {
				wb.Put([]byte("key1"), []byte("val1"))
				wb.Delete([]byte("key1"))
				wb.Put([]byte("key2"), []byte("val2"))
			},
			expectedCount:  3,
			expectedSeqOps: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := New()
			tt.setupBatch(wb)

			// Verify Count() matches expected
			if wb.Count() != tt.expectedCount {
				t.Errorf("Count() = %d, want %d", wb.Count(), tt.expectedCount)
			}

			// Now count actual sequence-consuming operations by iterating
			counter := &sequenceCounter{}
			wb.SetSequence(100) // Start from sequence 100
			if err := wb.Iterate(counter); err != nil {
				t.Fatalf("Iterate failed: %v", err)
			}

			actualSeqOps := counter.count
			if actualSeqOps != tt.expectedSeqOps {
				t.Errorf("Actual sequence-consuming ops = %d, want %d", actualSeqOps, tt.expectedSeqOps)
			}

			// CRITICAL: Count() must match actual sequence-consuming operations
			if wb.Count() != actualSeqOps {
				t.Errorf("MISMATCH: Count() = %d, but actual sequence-consuming ops = %d",
					wb.Count(), actualSeqOps)
				t.Error("This will cause sequence number reuse after flush+crash+reopen!")
			}
		})
	}
}

// sequenceCounter counts how many operations actually consume sequence numbers
type sequenceCounter struct {
	count uint32
}

func (c *sequenceCounter) Put(key, value []byte) error {
	c.count++
	return nil
}

func (c *sequenceCounter) Delete(key []byte) error {
	c.count++
	return nil
}
