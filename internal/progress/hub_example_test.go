package progress

import (
	"context"
	"fmt"
	"time"
)

type countingSink struct {
	pages int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StagePageFetched && evt.Success {
			s.pages++
		}
	}
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{
		JobID:   "job-1",
		TS:      time.Unix(0, 0),
		Stage:   StagePageFetched,
		URL:     "https://example.com/about",
		Success: true,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages fetched: %d\n", sink.pages)
	// Output:
	// pages fetched: 1
}
