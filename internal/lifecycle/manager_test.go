package lifecycle

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCloseRunsInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var order []string
	m.RegisterFunc("first", func() error {
		order = append(order, "first")
		return nil
	})
	m.RegisterFunc("second", func() error {
		order = append(order, "second")
		return nil
	})

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("close order = %v", order)
	}
}

func TestCloseAggregatesErrors(t *testing.T) {
	m := NewManager(zerolog.Nop())

	errFirst := errors.New("first failed")
	ran := false
	m.RegisterFunc("failing", func() error { return errFirst })
	m.RegisterFunc("later", func() error {
		ran = true
		return nil
	})

	if err := m.Close(); !errors.Is(err, errFirst) {
		t.Errorf("err = %v, want %v", err, errFirst)
	}
	if !ran {
		t.Error("later closer skipped after failure")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(zerolog.Nop())

	calls := 0
	m.RegisterFunc("once", func() error {
		calls++
		return nil
	})

	_ = m.Close()
	_ = m.Close()
	if calls != 1 {
		t.Errorf("closer ran %d times, want 1", calls)
	}
}
