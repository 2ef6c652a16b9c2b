package progress

import (
	"bytes"
	"sync"
	"testing"
)

func TestBar_Phases(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf)

	b.Begin("classify", 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Step("IMG_1.jpg")
		}()
	}
	wg.Wait()
	b.End()

	// Step and End outside a phase must not panic.
	b.Step("late")
	b.End()

	if buf.Len() == 0 {
		t.Error("expected the bar to render output")
	}
}

func TestNop(t *testing.T) {
	var r Reporter = Nop{}
	r.Begin("score", 3)
	r.Step("a")
	r.End()
}
