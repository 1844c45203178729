package training

import (
	"context"
	"io"
	"sort"
	"testing"
)

func collectBatches(t *testing.T, dl *DataLoader) ([]*Batch, error) {
	t.Helper()
	it := dl.Iterator(context.Background())
	defer it.Close()
	var batches []*Batch
	for {
		b, err := it.Next()
		if err == io.EOF {
			return batches, nil
		}
		if err != nil {
			return batches, err
		}
		batches = append(batches, b)
	}
}

func TestDataLoaderBatching(t *testing.T) {
	tests := []struct {
		name    string
		indexed bool
		workers int
	}{
		{"stream", false, 1},
		{"indexed single worker", true, 1},
		{"indexed many workers", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := []int{0, 1, 2, 3, 4}
			var dl *DataLoader
			var err error
			cfg := DataLoaderConfig{BatchSize: 2, NumWorkers: tt.workers}
			if tt.indexed {
				dl, err = NewDataLoader(newIndexed(t, labels...), cfg)
			} else {
				dl, err = NewDataLoader(newStream(t, labels...), cfg)
			}
			if err != nil {
				t.Fatalf("NewDataLoader: %v", err)
			}
			if dl.Len() != 3 || dl.Size() != 5 {
				t.Errorf("Expected 3 batches of 5 samples, got %d and %d", dl.Len(), dl.Size())
			}

			batches, err := collectBatches(t, dl)
			if err != nil {
				t.Fatalf("iteration failed: %v", err)
			}
			if len(batches) != 3 {
				t.Fatalf("Expected 3 batches, got %d", len(batches))
			}

			var got []int
			for i, b := range batches {
				want := 2
				if i == 2 {
					want = 1
				}
				if b.Size() != want || b.Data.Shape[0] != want {
					t.Errorf("Batch %d: expected size %d, got %d (%v)", i, want, b.Size(), b.Data.Shape)
				}
				got = append(got, b.Labels...)
			}
			for i, label := range got {
				if label != labels[i] {
					t.Errorf("Expected in-order labels %v, got %v", labels, got)
					break
				}
			}
		})
	}
}

func TestDataLoaderShuffle(t *testing.T) {
	labels := make([]int, 50)
	for i := range labels {
		labels[i] = i
	}
	dl, err := NewDataLoader(newIndexed(t, labels...), DataLoaderConfig{BatchSize: 4, NumWorkers: 2, Shuffle: true, Seed: 7})
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}

	batches, err := collectBatches(t, dl)
	if err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	var got []int
	for _, b := range batches {
		got = append(got, b.Labels...)
	}
	inOrder := sort.IntsAreSorted(got)
	sort.Ints(got)
	for i := range labels {
		if got[i] != i {
			t.Fatalf("Shuffled epoch lost or duplicated samples: %v", got)
		}
	}
	if inOrder {
		t.Error("Expected shuffled order")
	}
}

func TestDataLoaderShuffleIgnoredForStream(t *testing.T) {
	dl, err := NewDataLoader(newStream(t, 0, 1, 2), DataLoaderConfig{BatchSize: 1, NumWorkers: 1, Shuffle: true})
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}
	if dl.config.Shuffle {
		t.Error("Expected shuffle to be disabled for a streaming source")
	}
}

func TestDataLoaderErrors(t *testing.T) {
	if _, err := NewDataLoader(newStream(t, 0), DataLoaderConfig{BatchSize: 0, NumWorkers: 1}); err == nil {
		t.Error("Expected error for zero batch size")
	}
	if _, err := NewDataLoader(newStream(t, 0), DataLoaderConfig{BatchSize: 1, NumWorkers: 0}); err == nil {
		t.Error("Expected error for zero workers")
	}

	src := newIndexed(t, 0, 1, 2, 3, 4, 5)
	src.failAt = 3
	dl, err := NewDataLoader(src, DataLoaderConfig{BatchSize: 2, NumWorkers: 2})
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}
	batches, err := collectBatches(t, dl)
	if err == nil {
		t.Fatal("Expected load error")
	}
	if len(batches) != 1 {
		t.Errorf("Expected the batch before the failure to be delivered, got %d", len(batches))
	}
}

func TestDataLoaderEarlyClose(t *testing.T) {
	dl, err := NewDataLoader(newIndexed(t, 0, 1, 2, 3, 4, 5, 6, 7), DataLoaderConfig{BatchSize: 1, NumWorkers: 2})
	if err != nil {
		t.Fatalf("NewDataLoader: %v", err)
	}
	it := dl.Iterator(context.Background())
	if _, err := it.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	it.Close()

	// A new epoch starts from the beginning.
	batches, err := collectBatches(t, dl)
	if err != nil || len(batches) != 8 {
		t.Errorf("Expected 8 batches after restart, got %d (%v)", len(batches), err)
	}
}
