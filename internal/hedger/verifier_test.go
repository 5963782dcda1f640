package hedger

import (
	"context"
	"errors"
	"testing"

	"dualdex-bot/internal/venue"
)

func TestSizeNearPredicate(t *testing.T) {
	pred := SizeNear(venue.Long, 1.0, 0.02)
	if !pred.OK(venue.Position{Size: 1.0}) {
		t.Fatal("exact size should match")
	}
	if !pred.OK(venue.Position{Size: 0.985}) {
		t.Fatal("size within tolerance should match")
	}
	if pred.OK(venue.Position{Size: 0.9}) {
		t.Fatal("size outside tolerance should not match")
	}
	if pred.OK(venue.Position{Size: -1.0}) {
		t.Fatal("short position should not match a long expectation")
	}
	if pred.OK(venue.Position{Size: 0}) {
		t.Fatal("flat position should not match")
	}

	short := SizeNear(venue.Short, 1.0, 0.02)
	if !short.OK(venue.Position{Size: -1.01}) {
		t.Fatal("short size within tolerance should match")
	}
	if short.OK(venue.Position{Size: 1.0}) {
		t.Fatal("long position should not match a short expectation")
	}
}

func TestFlatPredicate(t *testing.T) {
	pred := Flat()
	if !pred.OK(venue.Position{Size: 0}) {
		t.Fatal("zero size should be flat")
	}
	if !pred.OK(venue.Position{Size: 1e-9}) {
		t.Fatal("dust should count as flat")
	}
	if pred.OK(venue.Position{Size: 0.5}) {
		t.Fatal("open position should not be flat")
	}
}

func TestWaitForSucceedsWhenPredicateHolds(t *testing.T) {
	client := newMockVenue("a", 100)
	client.position = 10

	pos, err := testVerifier().WaitFor(context.Background(), client, "BTC", SizeNear(venue.Long, 10, 0.02))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Size != 10 {
		t.Fatalf("expected observed size 10, got %.4f", pos.Size)
	}
}

func TestWaitForExhaustsBudget(t *testing.T) {
	client := newMockVenue("a", 100)

	_, err := testVerifier().WaitFor(context.Background(), client, "BTC", SizeNear(venue.Long, 10, 0.02))
	if err == nil {
		t.Fatal("expected verification error")
	}
	if !IsVerificationFailed(err) {
		t.Fatalf("expected a verification error, got %v", err)
	}
}

func TestWaitForReportsLastObserved(t *testing.T) {
	client := newMockVenue("a", 100)
	client.position = 3

	_, err := testVerifier().WaitFor(context.Background(), client, "BTC", Flat())
	var ve *VerificationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VerificationError, got %v", err)
	}
	if ve.Last.Size != 3 {
		t.Fatalf("expected last observed size 3, got %.4f", ve.Last.Size)
	}
}
