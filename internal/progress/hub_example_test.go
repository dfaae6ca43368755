package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	records int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.records += evt.Records
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals the records reported by unit events.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4}, sink)

	for _, n := range []int{2, 3} {
		hub.Emit(Event{
			RunID:   "run-1",
			TS:      time.Unix(0, 0),
			Stage:   StageUnitDone,
			Phase:   PhaseArticles,
			Records: n,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("records reported: %d\n", sink.records)
	// Output:
	// records reported: 5
}
